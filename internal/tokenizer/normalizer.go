package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Normalizer lowers raw text into the canonical form both tokenizers and
// text-typed key fields operate on: Unicode NFKC canonicalization, width
// folding of full/half-width forms, case folding, and the configured
// whitespace treatment, in that order.
type Normalizer struct {
	desc   Descriptor
	chain  transform.Transformer
	folder cases.Caser
}

// NewNormalizer builds a normalizer from descriptor knobs.
func NewNormalizer(desc Descriptor) *Normalizer {
	var ts []transform.Transformer
	if desc.Canonicalize {
		ts = append(ts, norm.NFKC)
	}
	if desc.WidthFold {
		ts = append(ts, width.Fold)
	}
	if desc.Whitespace == WhitespaceDelete {
		ts = append(ts, runes.Remove(runes.In(unicode.White_Space)))
	}
	n := &Normalizer{desc: desc}
	if len(ts) > 0 {
		n.chain = transform.Chain(ts...)
	}
	if desc.CaseFold {
		n.folder = cases.Fold()
	}
	return n
}

// Normalize applies the full pipeline to s.
func (n *Normalizer) Normalize(s string) string {
	if n.chain != nil {
		if out, _, err := transform.String(n.chain, s); err == nil {
			s = out
		}
	}
	if n.desc.CaseFold {
		s = n.folder.String(s)
	}
	if n.desc.Whitespace == WhitespaceReset {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}

// Stem reduces an already-normalized word to its stem. A light English
// suffix stripper; the analyzer interface lets a dictionary-backed
// stemmer replace it wholesale.
func Stem(w string) string {
	r := []rune(w)
	if len(r) < 4 {
		return w
	}
	switch {
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ies"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	}
	if strings.HasSuffix(w, "ing") && len(r) >= 6 && hasVowel(w[:len(w)-3]) {
		return w[:len(w)-3]
	}
	if strings.HasSuffix(w, "ed") && len(r) >= 5 && hasVowel(w[:len(w)-2]) {
		return w[:len(w)-2]
	}
	return w
}

func hasVowel(s string) bool {
	return strings.ContainsAny(s, "aeiou")
}
