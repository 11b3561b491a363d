package imageguard

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies everything a verdict depends on: the file name, the
// declared type, the declared size, the bytes inside the content sample window
// and the supplied metadata. Two inputs with the same fingerprint receive the
// same verdict, which makes it usable as a cache key. Reads are bounded by the
// content sample window, like the pipeline itself.
//
// The key is a 256-bit BLAKE2b digest. File bytes are attacker-controlled, so
// a key that admits crafted collisions would let a malicious upload inherit
// the verdict of a benign one.
func (v *Validator) Fingerprint(f File, md Metadata) (string, error) {
	if isNilFile(f) {
		return "", fmt.Errorf("no file provided")
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	writeString(h, f.Name())
	writeString(h, normalizeMIME(f.MIMEType()))
	writeInt(h, f.Size())

	if f.Size() > 0 {
		sample, err := readRange(f, 0, min(f.Size(), v.constraints.ContentSampleSize))
		if err != nil {
			return "", fmt.Errorf("failed to read content sample: %w", err)
		}
		writeInt(h, int64(len(sample)))
		_, _ = h.Write(sample)
	}

	writeValue(h, map[string]any(md), 0, v.constraints.MaxMetadataDepth+1)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeValue feeds a canonical, type-tagged encoding of value into h. Map keys
// are visited in sorted order. Anything deeper than limit collapses to a
// marker: the verdict for such input is decided by the depth check alone.
func writeValue(h hash.Hash, value any, depth, limit int) {
	if depth > limit {
		writeString(h, "!depth")
		return
	}
	switch v := value.(type) {
	case nil:
		writeString(h, "n")
	case string:
		writeString(h, "s")
		writeString(h, v)
	case Metadata:
		writeValue(h, map[string]any(v), depth, limit)
	case map[string]any:
		writeString(h, "m")
		writeInt(h, int64(len(v)))
		for _, k := range sortedKeys(v) {
			writeString(h, k)
			writeValue(h, v[k], depth+1, limit)
		}
	case []any:
		writeString(h, "a")
		writeInt(h, int64(len(v)))
		for _, elem := range v {
			writeValue(h, elem, depth+1, limit)
		}
	case []string:
		writeString(h, "a")
		writeInt(h, int64(len(v)))
		for _, elem := range v {
			writeString(h, "s")
			writeString(h, elem)
		}
	default:
		writeString(h, fmt.Sprintf("%T", v))
		writeString(h, fmt.Sprintf("%v", v))
	}
}

func writeString(h hash.Hash, s string) {
	writeInt(h, int64(len(s)))
	_, _ = h.Write([]byte(s))
}

func writeInt(h hash.Hash, n int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(n))
	_, _ = h.Write(buf[:])
}
