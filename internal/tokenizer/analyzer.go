package tokenizer

import "unicode"

// Analyzer is the language-dependent word segmenter behind the word
// tokenizer: prepared once per input text, then drained word by word.
// The default implementation is a class-based scanner; a morphological
// analyzer with a dictionary satisfies the same two methods.
type Analyzer interface {
	Prepare(text, lang string)
	NextWord() (Token, bool)
}

// defaultWordCost is the occurrence cost the default analyzer assigns to
// the words it can classify as nouns (ideographs, for which it has no
// dictionary but a strong prior).
const defaultWordCost = 300

// functionWords is the default analyzer's closed class: words that never
// carry content and are excluded from feature extraction.
var functionWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "as": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"it": true, "this": true, "that": true, "from": true, "not": true,
	"no": true, "but": true, "if": true, "then": true, "so": true,
}

// defaultAnalyzer segments normalized text by rune class: runs of
// alphabetic runes become words (PosUnknown, or PosFunction for the
// closed class), runs of digits become numbers, and each ideograph is
// its own noun token.
type defaultAnalyzer struct {
	runes []rune
	pos   int
}

func newDefaultAnalyzer() Analyzer { return &defaultAnalyzer{} }

func (a *defaultAnalyzer) Prepare(text, lang string) {
	a.runes = []rune(text)
	a.pos = 0
}

func isIdeograph(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) && !isIdeograph(r)
}

func (a *defaultAnalyzer) NextWord() (Token, bool) {
	for a.pos < len(a.runes) {
		r := a.runes[a.pos]
		switch {
		case isIdeograph(r):
			tok := Token{
				Surface:    string(r),
				Pos:        PosNoun,
				UnifiedPos: PosNoun,
				Cost:       defaultWordCost,
				Position:   a.pos,
				Length:     1,
			}
			a.pos++
			return tok, true
		case isWordRune(r):
			start := a.pos
			for a.pos < len(a.runes) && isWordRune(a.runes[a.pos]) {
				a.pos++
			}
			surface := string(a.runes[start:a.pos])
			pos := PosUnknown
			if functionWords[surface] {
				pos = PosFunction
			}
			return Token{
				Surface:    surface,
				Pos:        pos,
				UnifiedPos: pos,
				Position:   start,
				Length:     a.pos - start,
			}, true
		case unicode.IsDigit(r):
			start := a.pos
			for a.pos < len(a.runes) && unicode.IsDigit(a.runes[a.pos]) {
				a.pos++
			}
			return Token{
				Surface:    string(a.runes[start:a.pos]),
				Pos:        PosNumber,
				UnifiedPos: PosNumber,
				Position:   start,
				Length:     a.pos - start,
			}, true
		default:
			a.pos++
		}
	}
	return Token{}, false
}
