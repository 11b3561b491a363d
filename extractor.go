package imageguard

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// MetadataExtractor pulls quick, best-effort metadata out of the leading
// content sample. Errors are reported as warnings and never reject a file.
type MetadataExtractor interface {
	Extract(mimeType string, sample []byte) (Metadata, error)
}

// ExtractorFunc adapts a plain function to MetadataExtractor.
type ExtractorFunc func(mimeType string, sample []byte) (Metadata, error)

// Extract implements MetadataExtractor
func (f ExtractorFunc) Extract(mimeType string, sample []byte) (Metadata, error) {
	return f(mimeType, sample)
}

// NoopExtractor extracts nothing.
type NoopExtractor struct{}

// Extract implements MetadataExtractor
func (NoopExtractor) Extract(string, []byte) (Metadata, error) { return nil, nil }

// TextChunkExtractor collects the free-text fields image formats carry
// outside EXIF: PNG tEXt/iTXt chunks and JPEG COM segments.
type TextChunkExtractor struct{}

// Extract implements MetadataExtractor
func (TextChunkExtractor) Extract(mimeType string, sample []byte) (Metadata, error) {
	switch canonicalMIME(mimeType) {
	case "image/png":
		return extractPNGText(sample)
	case "image/jpeg":
		return extractJPEGComments(sample)
	default:
		return nil, nil
	}
}

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func extractPNGText(data []byte) (Metadata, error) {
	if !bytes.HasPrefix(data, pngMagic) {
		return nil, fmt.Errorf("not a PNG stream")
	}
	md := Metadata{}
	pos := len(pngMagic)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		kind := string(data[pos+4 : pos+8])
		start := pos + 8
		end := start + length
		if length < 0 || end > len(data) {
			// Chunk runs past the sample; the rest is out of reach.
			break
		}
		body := data[start:end]
		switch kind {
		case "tEXt":
			if key, value, ok := bytes.Cut(body, []byte{0}); ok {
				md[string(key)] = string(value)
			}
		case "iTXt":
			if key, value, ok := parseITXt(body); ok {
				md[key] = value
			}
		case "IEND":
			return md, nil
		}
		pos = end + 4 // skip CRC
	}
	return md, nil
}

// parseITXt reads an uncompressed international text chunk.
func parseITXt(body []byte) (string, string, bool) {
	key, rest, ok := bytes.Cut(body, []byte{0})
	if !ok || len(rest) < 2 || rest[0] != 0 {
		// Compressed iTXt needs inflating; leave it to the content scan.
		return "", "", false
	}
	rest = rest[2:]
	_, rest, ok = bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return "", "", false
	}
	_, text, ok := bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return "", "", false
	}
	return string(key), string(text), true
}

func extractJPEGComments(data []byte) (Metadata, error) {
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("not a JPEG stream")
	}
	var comments []string
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			break
		}
		marker := data[pos+1]
		if marker == 0xDA || marker == 0xD9 {
			// Start of scan or end of image: no more headers.
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			break
		}
		if marker == 0xFE {
			comments = append(comments, string(data[pos+4:pos+2+length]))
		}
		pos += 2 + length
	}
	md := Metadata{}
	if len(comments) > 0 {
		md["Comment"] = strings.Join(comments, "\n")
	}
	return md, nil
}
