package tokenizer

// TokenizedResult is the outcome of lowering one document text: the
// normalized form, the word stream, the n-gram stream, and the word
// boundary offsets. Word and n-gram positions index the same normalized
// rune sequence, which is what lets phrase queries intersect the two
// streams in dual mode.
type TokenizedResult struct {
	Normalized     string
	Words          []Token
	NGrams         []Token
	WordBoundaries []int
}

// ngrams generates overlapping substrings of length n over text, with
// rune positions. Texts shorter than n yield nothing; the query side
// handles that case with a bounded prefix scan (see TokenizeQuery).
func ngrams(text string, n int) []Token {
	r := []rune(text)
	if len(r) < n {
		return nil
	}
	out := make([]Token, 0, len(r)-n+1)
	for i := 0; i+n <= len(r); i++ {
		out = append(out, Token{
			Surface:    string(r[i : i+n]),
			Pos:        PosUnknown,
			UnifiedPos: PosUnknown,
			Position:   i,
			Length:     n,
		})
	}
	return out
}

// Tokenize lowers text through the normalizer and runs the tokenizers the
// descriptor's mode selects.
func (t *Tokenizer) Tokenize(text string) *TokenizedResult {
	normalized := t.Normalize(text)
	res := &TokenizedResult{Normalized: normalized}

	if t.desc.Mode == ModeWord || t.desc.Mode == ModeDual {
		an := t.analyzer()
		an.Prepare(normalized, t.desc.Language)
		for {
			tok, ok := an.NextWord()
			if !ok {
				break
			}
			res.Words = append(res.Words, tok)
			res.WordBoundaries = append(res.WordBoundaries, tok.Position)
		}
		if n := len(res.Words); n > 0 {
			last := res.Words[n-1]
			res.WordBoundaries = append(res.WordBoundaries, last.Position+last.Length)
		}
	}
	if t.desc.Mode == ModeNGram || t.desc.Mode == ModeDual {
		res.NGrams = ngrams(normalized, t.desc.NGramLength)
	}
	return res
}
