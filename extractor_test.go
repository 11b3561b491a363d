package imageguard

import (
	"bytes"
	"testing"
)

func TestTextChunkExtractorPNG(t *testing.T) {
	data := pngWithText("Comment", "hello", "Author", "someone")

	md, err := TextChunkExtractor{}.Extract("image/png", data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md["Comment"] != "hello" || md["Author"] != "someone" {
		t.Errorf("Unexpected metadata: %#v", md)
	}
}

func TestTextChunkExtractorITXt(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pngMagic)
	buf.Write(pngChunk("iTXt", []byte("Title\x00\x00\x00en\x00Titel\x00Beach day")))
	buf.Write(pngChunk("iTXt", []byte("Zipped\x00\x01\x00\x00\x00compressed")))
	buf.Write(pngChunk("IEND", nil))

	md, err := TextChunkExtractor{}.Extract("image/png", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md["Title"] != "Beach day" {
		t.Errorf("Expected iTXt text, got %#v", md)
	}
	if _, ok := md["Zipped"]; ok {
		t.Error("Expected compressed iTXt to be skipped")
	}
}

func TestTextChunkExtractorTruncatedChunk(t *testing.T) {
	data := pngWithText("Comment", "hello")
	// Cut inside the tEXt chunk: what precedes it is still reported.
	md, err := TextChunkExtractor{}.Extract("image/png", data[:len(pngMagic)+25+10])
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(md) != 0 {
		t.Errorf("Expected no fields from a truncated chunk, got %#v", md)
	}
}

func TestTextChunkExtractorJPEG(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8})
	buf.Write(jpegSegment(0xE0, []byte("JFIF\x00\x01\x01")))
	buf.Write(jpegSegment(0xFE, []byte("hello")))
	buf.Write(jpegSegment(0xFE, []byte("world")))
	buf.Write([]byte{0xFF, 0xDA})
	buf.Write(jpegSegment(0xFE, []byte("after scan")))

	md, err := TextChunkExtractor{}.Extract("image/jpg", buf.Bytes())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if md["Comment"] != "hello\nworld" {
		t.Errorf("Expected joined comments, got %#v", md)
	}
}

func TestTextChunkExtractorErrors(t *testing.T) {
	if _, err := (TextChunkExtractor{}).Extract("image/png", jpegData(64)); err == nil {
		t.Error("Expected error for non-PNG bytes")
	}
	if _, err := (TextChunkExtractor{}).Extract("image/jpeg", pngData(64)); err == nil {
		t.Error("Expected error for non-JPEG bytes")
	}
	md, err := TextChunkExtractor{}.Extract("image/tiff", []byte{0x49, 0x49, 0x2A, 0x00})
	if err != nil || md != nil {
		t.Errorf("Expected nothing for tiff, got %v %v", md, err)
	}
}

func TestExtractorFunc(t *testing.T) {
	var got string
	e := ExtractorFunc(func(mimeType string, sample []byte) (Metadata, error) {
		got = mimeType
		return Metadata{"n": len(sample)}, nil
	})
	md, err := e.Extract("image/png", []byte{1, 2, 3})
	if err != nil || md["n"] != 3 || got != "image/png" {
		t.Errorf("Unexpected result: %v %v %s", md, err, got)
	}
}
