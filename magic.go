package imageguard

import (
	"bytes"
	"fmt"
)

// MagicSignature defines a file type signature
type MagicSignature struct {
	MIME   string
	Offset int    // Offset from start of file
	Magic  []byte // Magic bytes to match
}

// builtinSignatures holds the leading-byte patterns for every supported type.
// HEIC/HEIF files carry an ISO-BMFF "ftyp" box whose brand differs between
// encoders, so several brands map to the same type.
var builtinSignatures = []MagicSignature{
	{MIME: "image/jpeg", Offset: 0, Magic: []byte{0xFF, 0xD8, 0xFF}},
	{MIME: "image/png", Offset: 0, Magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{MIME: "image/tiff", Offset: 0, Magic: []byte{0x49, 0x49, 0x2A, 0x00}}, // Little endian
	{MIME: "image/tiff", Offset: 0, Magic: []byte{0x4D, 0x4D, 0x00, 0x2A}}, // Big endian

	// 24-byte ftyp box followed by the major brand.
	{MIME: "image/heic", Offset: 4, Magic: []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'c'}},
	{MIME: "image/heif", Offset: 4, Magic: []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'h', 'e', 'i', 'f'}},

	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypheic")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypheix")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftyphevc")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftyphevx")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypheim")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypheis")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypmif1")},
	{MIME: "image/heic", Offset: 4, Magic: []byte("ftypmsf1")},
	{MIME: "image/heif", Offset: 4, Magic: []byte("ftypheif")},
	{MIME: "image/heif", Offset: 4, Magic: []byte("ftypmif1")},
	{MIME: "image/heif", Offset: 4, Magic: []byte("ftypmsf1")},
}

// mimeAliases maps a declared type to the table type it is verified against.
var mimeAliases = map[string]string{
	"image/jpg": "image/jpeg",
}

// SignatureTable is an immutable set of magic signatures, safe to share
// between validations.
type SignatureTable struct {
	signatures []MagicSignature
}

// NewSignatureTable returns the built-in table extended with extra entries.
func NewSignatureTable(extra ...MagicSignature) *SignatureTable {
	sigs := make([]MagicSignature, 0, len(builtinSignatures)+len(extra))
	sigs = append(sigs, builtinSignatures...)
	for _, sig := range extra {
		sigs = append(sigs, MagicSignature{
			MIME:   normalizeMIME(sig.MIME),
			Offset: sig.Offset,
			Magic:  append([]byte(nil), sig.Magic...),
		})
	}
	return &SignatureTable{signatures: sigs}
}

// Signatures returns a copy of the table entries.
func (t *SignatureTable) Signatures() []MagicSignature {
	return append([]MagicSignature(nil), t.signatures...)
}

// Knows reports whether any entry can verify the declared type.
func (t *SignatureTable) Knows(declared string) bool {
	declared = canonicalMIME(declared)
	for _, sig := range t.signatures {
		if sig.MIME == declared {
			return true
		}
	}
	return false
}

// Verify reports whether header starts with a signature compatible with the
// declared type.
func (t *SignatureTable) Verify(header []byte, declared string) bool {
	declared = canonicalMIME(declared)
	for _, sig := range t.signatures {
		if sig.MIME != declared {
			continue
		}
		if matchSignature(header, sig) {
			return true
		}
	}
	return false
}

// Detect returns the first table type whose signature matches header, or "".
func (t *SignatureTable) Detect(header []byte) string {
	for _, sig := range t.signatures {
		if matchSignature(header, sig) {
			return sig.MIME
		}
	}
	return ""
}

// check runs the signature stage against an already read header.
func (t *SignatureTable) check(header []byte, declared string) (string, *ValidationError) {
	detected := t.Detect(header)
	if t.Verify(header, declared) {
		return detected, nil
	}
	if detected != "" {
		return detected, newValidationErrorf(CodeSignatureMismatch,
			"file signature does not match declared type %s (content looks like %s)", declared, detected)
	}
	return "", newValidationErrorf(CodeSignatureMismatch,
		"file signature does not match declared type %s", declared)
}

func matchSignature(data []byte, sig MagicSignature) bool {
	if sig.Offset+len(sig.Magic) > len(data) {
		return false
	}
	return bytes.Equal(data[sig.Offset:sig.Offset+len(sig.Magic)], sig.Magic)
}

func canonicalMIME(declared string) string {
	declared = normalizeMIME(declared)
	if alias, ok := mimeAliases[declared]; ok {
		return alias
	}
	return declared
}

var defaultSignatures = NewSignatureTable()

// DetectMIME returns the supported image type header starts with, or "".
func DetectMIME(header []byte) string {
	return defaultSignatures.Detect(header)
}

// VerifySignature reports whether header matches the declared type using the
// built-in table.
func VerifySignature(header []byte, declared string) error {
	if _, verr := defaultSignatures.check(header, declared); verr != nil {
		return verr
	}
	return nil
}

func (s MagicSignature) String() string {
	return fmt.Sprintf("%s@%d:% X", s.MIME, s.Offset, s.Magic)
}
