package tokenizer

import (
	"encoding/binary"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// WhitespaceMode controls how the normalizer treats whitespace.
type WhitespaceMode uint8

const (
	// WhitespaceAsIs keeps whitespace, normalized like any other rune.
	WhitespaceAsIs WhitespaceMode = iota
	// WhitespaceNoNormalize is stored in the descriptor, but the normalizer
	// treats it like WhitespaceAsIs: whitespace still goes through
	// canonicalization and folding.
	WhitespaceNoNormalize
	// WhitespaceDelete removes all whitespace.
	WhitespaceDelete
	// WhitespaceReset collapses whitespace runs to a single space and
	// trims the ends.
	WhitespaceReset
)

func (w WhitespaceMode) String() string {
	switch w {
	case WhitespaceNoNormalize:
		return "no-normalize"
	case WhitespaceDelete:
		return "delete"
	case WhitespaceReset:
		return "reset"
	default:
		return "as-is"
	}
}

// Default parameter values.
const (
	DefaultNGramLength          = 2
	DefaultMaxOccurrenceCost    = 500
	DefaultAlphabetCostFactor   = 25.0
	DefaultFeatureTopN          = 10
	defaultDescriptorVersion    = 1
)

// Descriptor is the serialized parameter block identifying the normalizer
// resources, analyzer resources, and modes a file's full-text fields were
// created with. It is persisted as an opaque blob in File Info and must
// round-trip exactly so an existing file keeps tokenizing the way it was
// built.
type Descriptor struct {
	Mode         Mode           `yaml:"mode"`
	NGramLength  int            `yaml:"ngram_length"`
	Canonicalize bool           `yaml:"canonicalize"` // Unicode NFKC
	CaseFold     bool           `yaml:"case_fold"`
	WidthFold    bool           `yaml:"width_fold"`
	Stemming     bool           `yaml:"stemming"`
	Whitespace   WhitespaceMode `yaml:"whitespace"`
	Language     string         `yaml:"language,omitempty"`

	MaxOccurrenceCost  int     `yaml:"max_occurrence_cost"`
	AlphabetCostFactor float64 `yaml:"alphabet_cost_factor"`
	FeatureTopN        int     `yaml:"feature_top_n"`
}

// DefaultDescriptor returns the dual-mode descriptor used when a file
// declares a text field without tokenizer parameters.
func DefaultDescriptor() Descriptor {
	d := Descriptor{
		Mode:         ModeDual,
		Canonicalize: true,
		CaseFold:     true,
		WidthFold:    true,
		Whitespace:   WhitespaceReset,
	}
	d.applyDefaults()
	return d
}

func (d *Descriptor) applyDefaults() {
	if d.NGramLength <= 0 {
		d.NGramLength = DefaultNGramLength
	}
	if d.MaxOccurrenceCost <= 0 {
		d.MaxOccurrenceCost = DefaultMaxOccurrenceCost
	}
	if d.AlphabetCostFactor <= 0 {
		d.AlphabetCostFactor = DefaultAlphabetCostFactor
	}
	if d.FeatureTopN <= 0 {
		d.FeatureTopN = DefaultFeatureTopN
	}
}

const (
	descFlagCanonicalize = 1 << 0
	descFlagCaseFold     = 1 << 1
	descFlagWidthFold    = 1 << 2
	descFlagStemming     = 1 << 3
)

// Encode serializes the descriptor into the compact binary blob File Info
// stores.
func (d Descriptor) Encode() []byte {
	flags := uint8(0)
	if d.Canonicalize {
		flags |= descFlagCanonicalize
	}
	if d.CaseFold {
		flags |= descFlagCaseFold
	}
	if d.WidthFold {
		flags |= descFlagWidthFold
	}
	if d.Stemming {
		flags |= descFlagStemming
	}

	buf := make([]byte, 0, 32+len(d.Language))
	buf = append(buf, defaultDescriptorVersion, byte(d.Mode), byte(d.NGramLength), flags, byte(d.Whitespace))
	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(d.FeatureTopN))
	buf = append(buf, u16[:]...)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(d.MaxOccurrenceCost))
	buf = append(buf, u32[:]...)
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], math.Float64bits(d.AlphabetCostFactor))
	buf = append(buf, u64[:]...)
	binary.LittleEndian.PutUint16(u16[:], uint16(len(d.Language)))
	buf = append(buf, u16[:]...)
	buf = append(buf, d.Language...)
	return buf
}

// DecodeDescriptor parses the binary blob back into a Descriptor.
func DecodeDescriptor(buf []byte) (Descriptor, error) {
	var d Descriptor
	if len(buf) < 21 {
		return d, fmt.Errorf("tokenizer: descriptor blob too short (%d bytes)", len(buf))
	}
	if buf[0] != defaultDescriptorVersion {
		return d, fmt.Errorf("tokenizer: unsupported descriptor version %d", buf[0])
	}
	d.Mode = Mode(buf[1])
	d.NGramLength = int(buf[2])
	flags := buf[3]
	d.Canonicalize = flags&descFlagCanonicalize != 0
	d.CaseFold = flags&descFlagCaseFold != 0
	d.WidthFold = flags&descFlagWidthFold != 0
	d.Stemming = flags&descFlagStemming != 0
	d.Whitespace = WhitespaceMode(buf[4])
	d.FeatureTopN = int(binary.LittleEndian.Uint16(buf[5:7]))
	d.MaxOccurrenceCost = int(binary.LittleEndian.Uint32(buf[7:11]))
	d.AlphabetCostFactor = math.Float64frombits(binary.LittleEndian.Uint64(buf[11:19]))
	langLen := int(binary.LittleEndian.Uint16(buf[19:21]))
	if 21+langLen > len(buf) {
		return d, fmt.Errorf("tokenizer: descriptor language overruns blob")
	}
	d.Language = string(buf[21 : 21+langLen])
	d.applyDefaults()
	return d, nil
}

// MarshalYAMLBytes/UnmarshalDescriptorYAML are the human-readable projection
// used by test fixtures and inspection output; the binary blob above is
// the only on-disk form.
func (d Descriptor) MarshalYAMLBytes() ([]byte, error) {
	return yaml.Marshal(d)
}

func UnmarshalDescriptorYAML(data []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("tokenizer: parse descriptor YAML: %w", err)
	}
	d.applyDefaults()
	return d, nil
}
