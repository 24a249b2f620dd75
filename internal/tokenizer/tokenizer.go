// Package tokenizer implements the dual word/n-gram tokenizer that
// lowers Unicode text into token sequences for full-text indexing
// and key-field normalization: a normalizer built on golang.org/x/text
// (NFKC canonicalization, width folding, case folding), a word tokenizer
// driven by a pluggable analyzer, an n-gram tokenizer, query-time
// expansion, and cost-weighted feature-term extraction.
package tokenizer

// Mode selects which token streams a file's text fields are indexed with.
type Mode uint8

const (
	// ModeDual runs both the word and the n-gram tokenizer over the same
	// normalized text, aligning their positions so phrase queries can
	// intersect across the two streams. The common case.
	ModeDual Mode = iota
	ModeWord
	ModeNGram
)

func (m Mode) String() string {
	switch m {
	case ModeWord:
		return "word"
	case ModeNGram:
		return "ngram"
	default:
		return "dual"
	}
}

// POS is the part-of-speech class an analyzer assigns to a word.
type POS uint8

const (
	PosUnknown POS = iota // unknown word; alphabetic unknowns still feed feature extraction
	PosNoun
	PosNumber
	PosFunction // function words (articles, conjunctions, prepositions)
	PosSymbol
)

func (p POS) String() string {
	switch p {
	case PosNoun:
		return "noun"
	case PosNumber:
		return "number"
	case PosFunction:
		return "function"
	case PosSymbol:
		return "symbol"
	default:
		return "unknown"
	}
}

// Token is one unit produced by either tokenizer. Position and Length are
// rune offsets into the normalized text, shared between the word and
// n-gram streams so their positions align.
type Token struct {
	Surface    string
	Pos        POS
	Cost       int
	UnifiedPos POS
	Position   int
	Length     int
}

// Tokenizer binds a descriptor to its normalizer and analyzer. The
// underlying resources are immutable after New, safe for concurrent
// readers.
type Tokenizer struct {
	desc     Descriptor
	norm     *Normalizer
	analyzer func() Analyzer
}

// New builds a Tokenizer from a descriptor, applying defaults for any
// zero-valued knobs.
func New(desc Descriptor) *Tokenizer {
	desc.applyDefaults()
	return &Tokenizer{
		desc:     desc,
		norm:     NewNormalizer(desc),
		analyzer: func() Analyzer { return newDefaultAnalyzer() },
	}
}

// WithAnalyzer replaces the word analyzer factory, e.g. to plug in a
// dictionary-backed morphological analyzer.
func (t *Tokenizer) WithAnalyzer(factory func() Analyzer) *Tokenizer {
	t.analyzer = factory
	return t
}

// Descriptor returns the descriptor this tokenizer was built from.
func (t *Tokenizer) Descriptor() Descriptor { return t.desc }

// Normalize lowers s through the configured normalization pipeline; used
// both ahead of tokenization and directly on text-typed key fields before
// they reach the B+tree engine.
func (t *Tokenizer) Normalize(s string) string { return t.norm.Normalize(s) }
