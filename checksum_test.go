package imageguard

import (
	"context"
	"encoding/binary"
	"math/bits"
	"testing"

	"github.com/cespare/xxhash/v2"
)

var xxPrime1, xxPrime2 uint64 = 11400714785074694791, 14029467366897019727

// xxLanes returns the four XXH64 accumulators (seed 0) after the first n
// 32-byte stripes of data.
func xxLanes(data []byte, n int) [4]uint64 {
	v := [4]uint64{xxPrime1 + xxPrime2, xxPrime2, 0, -xxPrime1}
	for s := 0; s < n; s++ {
		for i := range v {
			in := binary.LittleEndian.Uint64(data[s*32+i*8:])
			v[i] = bits.RotateLeft64(v[i]+in*xxPrime2, 31) * xxPrime1
		}
	}
	return v
}

// oddInverse returns the multiplicative inverse of an odd p modulo 2^64.
func oddInverse(p uint64) uint64 {
	inv := p
	for range 5 {
		inv *= 2 - p*inv
	}
	return inv
}

// xxCollide writes payload into stripe k of a copy of data and solves stripe
// k+1 so that every accumulator matches data again. The copy has the same
// length and tail, so both hash to the same XXH64 value.
func xxCollide(data, payload []byte, k int) []byte {
	forged := append([]byte(nil), data...)
	copy(forged[k*32:(k+1)*32], payload)

	have := xxLanes(forged, k+1)
	want := xxLanes(data, k+2)
	inv1, inv2 := oddInverse(xxPrime1), oddInverse(xxPrime2)
	for i := range have {
		acc := bits.RotateLeft64(want[i]*inv1, -31)
		binary.LittleEndian.PutUint64(forged[(k+1)*32+i*8:], (acc-have[i])*inv2)
	}
	return forged
}

func TestFingerprintResistsCraftedCollisions(t *testing.T) {
	benign := jpegData(8 * 1024)
	forged := xxCollide(benign, []byte("<script>alert(1)</script>"), 20)

	if xxhash.Sum64(benign) != xxhash.Sum64(forged) {
		t.Fatal("Expected the crafted file to collide under XXH64")
	}

	v := NewDefault()
	a, err := v.Fingerprint(NewFile("photo.jpg", "image/jpeg", benign), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := v.Fingerprint(NewFile("photo.jpg", "image/jpeg", forged), nil)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a == b {
		t.Fatalf("Expected distinct fingerprints, both were %s", a)
	}
	if len(a) != 64 {
		t.Errorf("Expected a 256-bit hex key, got %d characters", len(a))
	}

	ctx := context.Background()
	cv := NewCachingValidator(v, NewMemoryCache(), 0)
	if result := cv.Validate(ctx, NewFile("photo.jpg", "image/jpeg", benign), nil); !result.Valid {
		t.Fatalf("Expected benign file to pass, got %s", result.Summary())
	}

	result := cv.Validate(ctx, NewFile("photo.jpg", "image/jpeg", forged), nil)
	if result.Valid || result.Cached {
		t.Fatalf("Expected crafted file to be scanned and rejected, got valid=%v cached=%v", result.Valid, result.Cached)
	}
	if result.Code != CodeMaliciousContent {
		t.Errorf("Expected %s, got %s", CodeMaliciousContent, result.Code)
	}
}
