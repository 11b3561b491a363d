package rediscache

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobeaver/imageguard"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)

	c, err := New("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func jpegBytes(n int) []byte {
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(0x80 + rng.IntN(0x80))
	}
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	return data
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	result, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || result != nil {
		t.Errorf("Expected miss, got ok=%v result=%v", ok, result)
	}
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	stored := &imageguard.ValidationResult{
		Valid:        false,
		Code:         imageguard.CodeSignatureMismatch,
		Stage:        imageguard.StageFailed,
		FailedStage:  imageguard.StageSignatureCheck,
		Filename:     "photo.jpg",
		Size:         512,
		DeclaredMIME: "image/jpeg",
		DetectedMIME: "image/png",
		Errors:       []imageguard.ValidationError{*imageguard.NewValidationError(imageguard.CodeSignatureMismatch, "mismatch")},
	}
	if err := c.Set(ctx, "k", stored, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Code != imageguard.CodeSignatureMismatch {
		t.Errorf("Expected code SignatureMismatch, got %s", got.Code)
	}
	if got.FailedStage != imageguard.StageSignatureCheck {
		t.Errorf("Expected failed stage signature_check, got %s", got.FailedStage)
	}
	if got.DetectedMIME != "image/png" {
		t.Errorf("Expected detected image/png, got %s", got.DetectedMIME)
	}
	if len(got.Errors) != 1 || got.Errors[0].Message != "mismatch" {
		t.Errorf("Expected one error with message mismatch, got %+v", got.Errors)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Expected miss after delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", &imageguard.ValidationResult{Valid: true}, time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	srv.FastForward(2 * time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Expected entry to expire")
	}
}

func TestCorruptEntry(t *testing.T) {
	c, srv := newTestCache(t)
	if err := srv.Set("k", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, ok, err := c.Get(context.Background(), "k")
	if err == nil {
		t.Error("Expected decode error for corrupt entry")
	}
	if ok {
		t.Error("Expected corrupt entry to be reported as a miss")
	}
}

func TestCachingValidatorSharesVerdicts(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	v := imageguard.NewDefault()
	data := jpegBytes(2048)

	first := imageguard.NewCachingValidator(v, c, time.Hour).
		Validate(ctx, imageguard.NewFile("photo.jpg", "image/jpeg", data), nil)
	if !first.Valid {
		t.Fatalf("Expected valid JPEG, got %s: %v", first.Code, first.Errors)
	}
	if first.Cached {
		t.Error("Expected first validation to run the pipeline")
	}
	if len(srv.Keys()) != 1 {
		t.Fatalf("Expected one cached verdict, got %d", len(srv.Keys()))
	}

	// A second validator sharing the same Redis sees the verdict.
	other := NewWithClient(redis.NewClient(&redis.Options{Addr: srv.Addr()}))
	defer other.Close()
	second := imageguard.NewCachingValidator(v, other, time.Hour).
		Validate(ctx, imageguard.NewFile("photo.jpg", "image/jpeg", data), nil)
	if !second.Cached {
		t.Error("Expected cached verdict")
	}
	if second.ID == first.ID {
		t.Error("Expected cached verdict to get a fresh ID")
	}
	if second.Valid != first.Valid || second.Sanitized != first.Sanitized {
		t.Errorf("Expected identical verdict, got valid=%v sanitized=%v", second.Valid, second.Sanitized)
	}
}

func TestRegisteredDriver(t *testing.T) {
	_, srv := newTestCache(t)

	cache, err := imageguard.CreateCache(&imageguard.Config{
		CacheDriver: "redis",
		RedisURL:    "redis://" + srv.Addr(),
	})
	if err != nil {
		t.Fatalf("CreateCache: %v", err)
	}
	if _, ok := cache.(*Cache); !ok {
		t.Errorf("Expected *Cache, got %T", cache)
	}
	cache.(*Cache).Close()
}
