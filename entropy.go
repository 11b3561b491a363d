package imageguard

import (
	"bytes"
	"math"
)

// ShannonEntropy returns the entropy of data in bits per byte (0..8).
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	n := float64(len(data))
	var entropy float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// LooksCompressible reports whether a header sample is so regular that the
// file is likely padded filler expanding from a tiny payload. Files shorter
// than one full sample window are never flagged: their headers are dominated
// by fixed structure.
func LooksCompressible(sample []byte, declaredSize int64, threshold float64) bool {
	if declaredSize < EntropySampleSize || len(sample) < EntropySampleSize {
		return false
	}
	return ShannonEntropy(sample[:EntropySampleSize]) < threshold
}

// RepetitionRatio is the share of 4-byte chunks identical to the first chunk.
// It returns 0 for samples under 40 bytes.
func RepetitionRatio(data []byte) float64 {
	if len(data) < defaultRepetitionMinBytes {
		return 0
	}
	first := data[:defaultRepetitionChunk]
	matches := 0
	for i := 0; i < len(data)-defaultRepetitionChunk; i += defaultRepetitionChunk {
		if bytes.Equal(data[i:i+defaultRepetitionChunk], first) {
			matches++
		}
	}
	return float64(matches) / float64(len(data)/defaultRepetitionChunk)
}

// HasRepeatedPattern reports whether the repetition ratio exceeds limit.
func HasRepeatedPattern(data []byte, limit float64) bool {
	return RepetitionRatio(data) > limit
}
