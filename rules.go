package imageguard

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules extends the built-in tables from a YAML document:
//
//	threat_patterns:
//	  - name: php-open-tag
//	    category: script
//	    pattern: '<\?php'
//	injection_patterns: []
//	denied_fields: [GPSProcessingMethod]
//	blocked_names: ["*.phar"]
//	signatures:
//	  - mime: image/heic
//	    offset: 4
//	    hex: "6674797068656963"
//
// Rules only ever add to the built-ins.
type Rules struct {
	ThreatPatterns    []RuleSpec      `yaml:"threat_patterns"`
	InjectionPatterns []RuleSpec      `yaml:"injection_patterns"`
	DeniedFields      []string        `yaml:"denied_fields"`
	BlockedNames      []string        `yaml:"blocked_names"`
	Signatures        []SignatureSpec `yaml:"signatures"`
}

// SignatureSpec is a magic signature written as hex.
type SignatureSpec struct {
	MIME   string `yaml:"mime"`
	Offset int    `yaml:"offset"`
	Hex    string `yaml:"hex"`

	magic []byte
}

// LoadRules parses and checks a rule document.
func LoadRules(r io.Reader) (*Rules, error) {
	var rules Rules
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// LoadRulesFile reads rules from path.
func LoadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return LoadRules(bytes.NewReader(data))
}

func (r *Rules) validate() error {
	for _, group := range [][]RuleSpec{r.ThreatPatterns, r.InjectionPatterns} {
		for _, rs := range group {
			if _, err := rs.Compile(); err != nil {
				return err
			}
		}
	}
	for i := range r.Signatures {
		sig := &r.Signatures[i]
		if sig.MIME == "" {
			return fmt.Errorf("signature %d has no mime type", i)
		}
		if sig.Offset < 0 {
			return fmt.Errorf("signature %d has a negative offset", i)
		}
		magic, err := hex.DecodeString(strings.ReplaceAll(sig.Hex, " ", ""))
		if err != nil || len(magic) == 0 {
			return fmt.Errorf("signature %d has invalid hex %q", i, sig.Hex)
		}
		if sig.Offset+len(magic) > HeaderSampleSize {
			return fmt.Errorf("signature %d reaches past the %d-byte header", i, HeaderSampleSize)
		}
		sig.magic = magic
	}
	return nil
}

func (r *Rules) signatures() []MagicSignature {
	sigs := make([]MagicSignature, 0, len(r.Signatures))
	for _, s := range r.Signatures {
		sigs = append(sigs, MagicSignature{MIME: s.MIME, Offset: s.Offset, Magic: s.magic})
	}
	return sigs
}

func (r *Rules) apply(c Constraints) Constraints {
	c.DeniedFields = append(append([]string(nil), c.DeniedFields...), r.DeniedFields...)
	c.BlockedNames = append(append([]string(nil), c.BlockedNames...), r.BlockedNames...)
	return c
}
