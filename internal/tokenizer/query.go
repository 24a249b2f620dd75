package tokenizer

import "strings"

// QueryTokenizedResult is one expansion of a query string: a target text
// with the token positions the engine intersects, plus the short-word
// range when the query is too short to form a single n-gram. Expansions
// are iterated independently by the query engine and ORed in the result
// space.
type QueryTokenizedResult struct {
	TargetText       string
	LocationsByToken map[string][]int
	ShortWordPrefix  string
	ShortWordFrom    string
	ShortWordTo      string
	TokenizedEnd     int
}

// runeSuccessor returns the smallest string greater than every string
// prefixed by s, by incrementing s's last rune.
func runeSuccessor(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[len(r)-1]++
	return string(r)
}

// TokenizeQuery expands a query string into one or more tokenized
// results. The first expansion is always the normalized query itself;
// with stemming enabled, a stemmed variant is added when it differs, so
// morphological variants of the stored text still match.
func (t *Tokenizer) TokenizeQuery(query string) []QueryTokenizedResult {
	normalized := t.Normalize(query)
	variants := []string{normalized}
	if t.desc.Stemming {
		if stemmed := stemText(normalized); stemmed != normalized {
			variants = append(variants, stemmed)
		}
	}

	out := make([]QueryTokenizedResult, 0, len(variants))
	for _, v := range variants {
		out = append(out, t.tokenizeQueryVariant(v))
	}
	return out
}

func stemText(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = Stem(w)
	}
	return strings.Join(words, " ")
}

func (t *Tokenizer) tokenizeQueryVariant(text string) QueryTokenizedResult {
	res := QueryTokenizedResult{
		TargetText:       text,
		LocationsByToken: make(map[string][]int),
	}
	runeLen := len([]rune(text))
	res.TokenizedEnd = runeLen

	// Short-word handling: a query shorter than the n-gram length cannot
	// form a single n-gram; instead report the (from, to) range bounding
	// every n-gram that could complete it so the engine can run a bounded
	// prefix scan.
	if (t.desc.Mode == ModeNGram || t.desc.Mode == ModeDual) && runeLen > 0 && runeLen < t.desc.NGramLength {
		res.ShortWordPrefix = text
		res.ShortWordFrom = text
		res.ShortWordTo = runeSuccessor(text)
		return res
	}

	tr := t.tokenizeNormalized(text)
	for _, tok := range tr.NGrams {
		res.LocationsByToken[tok.Surface] = append(res.LocationsByToken[tok.Surface], tok.Position)
	}
	for _, tok := range tr.Words {
		res.LocationsByToken[tok.Surface] = append(res.LocationsByToken[tok.Surface], tok.Position)
	}
	return res
}

// tokenizeNormalized runs the tokenizers over text that is already
// normalized, so query variants (e.g. stemmed forms) are not re-folded.
func (t *Tokenizer) tokenizeNormalized(text string) *TokenizedResult {
	res := &TokenizedResult{Normalized: text}
	if t.desc.Mode == ModeWord || t.desc.Mode == ModeDual {
		an := t.analyzer()
		an.Prepare(text, t.desc.Language)
		for {
			tok, ok := an.NextWord()
			if !ok {
				break
			}
			res.Words = append(res.Words, tok)
		}
	}
	if t.desc.Mode == ModeNGram || t.desc.Mode == ModeDual {
		res.NGrams = ngrams(text, t.desc.NGramLength)
	}
	return res
}
