package imageguard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math/rand/v2"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0}
	heicBox   = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c'}
)

// noise returns n deterministic high bytes. They never form ASCII text, so the
// content scan has nothing to match, and their entropy is close to 7 bits.
func noise(n int) []byte {
	rng := rand.New(rand.NewPCG(42, 7))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(0x80 + rng.IntN(0x80))
	}
	return data
}

func withHeader(header []byte, n int) []byte {
	data := noise(n)
	copy(data, header)
	return data
}

func jpegData(n int) []byte {
	return withHeader(jpegMagic, n)
}

func pngData(n int) []byte {
	return withHeader(pngMagic, n)
}

// pngChunk encodes one PNG chunk with its CRC.
func pngChunk(kind string, body []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(body)))
	buf.WriteString(kind)
	buf.Write(body)
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(body)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

// pngWithText builds a PNG whose text chunks carry the given key/value pairs,
// padded with noise after IEND.
func pngWithText(pairs ...string) []byte {
	var buf bytes.Buffer
	buf.Write(pngMagic)
	buf.Write(pngChunk("IHDR", []byte{0, 0, 0, 1, 0, 0, 0, 1, 8, 2, 0, 0, 0}))
	for i := 0; i+1 < len(pairs); i += 2 {
		buf.Write(pngChunk("tEXt", []byte(pairs[i]+"\x00"+pairs[i+1])))
	}
	buf.Write(pngChunk("IEND", nil))
	buf.Write(noise(512))
	return buf.Bytes()
}

// jpegSegment encodes one JPEG marker segment.
func jpegSegment(marker byte, body []byte) []byte {
	seg := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(body)+2))
	return append(seg, body...)
}

type errReaderAt struct{ err error }

func (r errReaderAt) ReadAt([]byte, int64) (int, error) { return 0, r.err }

var errDisk = errors.New("disk on fire")

type panicReaderAt struct{}

func (panicReaderAt) ReadAt([]byte, int64) (int, error) { panic("unexpected read") }

// countingReaderAt records the furthest byte any read reached.
type countingReaderAt struct {
	r       *bytes.Reader
	maxRead int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	if end := off + int64(n); end > c.maxRead {
		c.maxRead = end
	}
	return n, err
}

// panicNameFile wraps a File whose Name method panics.
type panicNameFile struct{ File }

func (panicNameFile) Name() string { panic("name unavailable") }
