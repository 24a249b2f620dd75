package tokenizer

import (
	"testing"
)

func TestNormalizeFolding(t *testing.T) {
	tok := New(DefaultDescriptor())
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"case fold", "Hello WORLD", "hello world"},
		{"width fold", "ＡＢＣ１２３", "abc123"},
		{"nfkc ligature", "ﬁle", "file"},
		{"whitespace reset", "  a \t b\n\nc  ", "a b c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tok.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeWhitespaceDelete(t *testing.T) {
	d := DefaultDescriptor()
	d.Whitespace = WhitespaceDelete
	tok := New(d)
	if got := tok.Normalize("a b\tc"); got != "abc" {
		t.Errorf("delete mode = %q, want abc", got)
	}
}

func TestNGramPositions(t *testing.T) {
	grams := ngrams("abcd", 2)
	want := []string{"ab", "bc", "cd"}
	if len(grams) != len(want) {
		t.Fatalf("ngrams = %v", grams)
	}
	for i, g := range grams {
		if g.Surface != want[i] || g.Position != i {
			t.Errorf("gram %d = %+v, want %q at %d", i, g, want[i], i)
		}
	}
	if got := ngrams("a", 2); got != nil {
		t.Errorf("short text should yield no ngrams, got %v", got)
	}
}

func TestDualModeAlignsPositions(t *testing.T) {
	tok := New(DefaultDescriptor())
	res := tok.Tokenize("quick fox")
	if len(res.Words) != 2 {
		t.Fatalf("words = %v", res.Words)
	}
	if res.Words[0].Surface != "quick" || res.Words[0].Position != 0 {
		t.Errorf("word 0 = %+v", res.Words[0])
	}
	if res.Words[1].Surface != "fox" || res.Words[1].Position != 6 {
		t.Errorf("word 1 = %+v", res.Words[1])
	}
	// N-gram positions index the same normalized rune sequence.
	for _, g := range res.NGrams {
		if g.Position < 0 || g.Position+g.Length > len([]rune(res.Normalized)) {
			t.Errorf("gram %+v out of range", g)
		}
	}
	// The boundary list closes with the end of the last word.
	if n := len(res.WordBoundaries); n != 3 || res.WordBoundaries[n-1] != 9 {
		t.Errorf("boundaries = %v", res.WordBoundaries)
	}
}

func TestWordClassification(t *testing.T) {
	an := newDefaultAnalyzer()
	an.Prepare("the cat saw 42 東京", "")
	var toks []Token
	for {
		tok, ok := an.NextWord()
		if !ok {
			break
		}
		toks = append(toks, tok)
	}
	if len(toks) != 6 {
		t.Fatalf("tokens = %v", toks)
	}
	if toks[0].Pos != PosFunction {
		t.Errorf("'the' = %v, want function", toks[0].Pos)
	}
	if toks[1].Pos != PosUnknown || toks[2].Pos != PosUnknown {
		t.Errorf("content words should be unknown: %v %v", toks[1].Pos, toks[2].Pos)
	}
	if toks[3].Pos != PosNumber {
		t.Errorf("'42' = %v, want number", toks[3].Pos)
	}
	if toks[4].Pos != PosNoun || toks[5].Pos != PosNoun {
		t.Errorf("ideographs should be nouns: %v %v", toks[4].Pos, toks[5].Pos)
	}
}

func TestQueryShortWordRange(t *testing.T) {
	tok := New(DefaultDescriptor()) // n-gram length 2
	results := tok.TokenizeQuery("x")
	if len(results) == 0 {
		t.Fatal("no expansions")
	}
	r := results[0]
	if r.ShortWordPrefix != "x" || r.ShortWordFrom != "x" || r.ShortWordTo != "y" {
		t.Errorf("short word range = %+v", r)
	}
	if r.TokenizedEnd != 1 {
		t.Errorf("tokenized end = %d", r.TokenizedEnd)
	}
}

func TestQueryExpansionWithStemming(t *testing.T) {
	d := DefaultDescriptor()
	d.Stemming = true
	tok := New(d)
	results := tok.TokenizeQuery("running")
	if len(results) != 2 {
		t.Fatalf("expected stemmed expansion, got %d results", len(results))
	}
	if results[0].TargetText != "running" {
		t.Errorf("first expansion = %q", results[0].TargetText)
	}
	if results[1].TargetText != "runn" {
		t.Errorf("stemmed expansion = %q", results[1].TargetText)
	}
	// Both expansions carry aligned n-gram locations.
	for _, r := range results {
		if len(r.LocationsByToken) == 0 {
			t.Errorf("expansion %q has no token locations", r.TargetText)
		}
	}
}

func TestQueryLocations(t *testing.T) {
	tok := New(DefaultDescriptor())
	r := tok.TokenizeQuery("abab")[0]
	locs := r.LocationsByToken["ab"]
	if len(locs) != 2 || locs[0] != 0 || locs[1] != 2 {
		t.Errorf("locations of 'ab' = %v, want [0 2]", locs)
	}
}

func TestFeatureExtraction(t *testing.T) {
	d := DefaultDescriptor()
	d.FeatureTopN = 3
	tok := New(d)
	terms := tok.ExtractFeatures("the quick quick brown fox")
	if len(terms) < 3 {
		t.Fatalf("terms = %v", terms)
	}
	if terms[0].Term != "quick" || terms[0].TF != 2 {
		t.Errorf("top term = %+v, want quick tf=2", terms[0])
	}
	if terms[1].Term != "brown" || terms[2].Term != "fox" {
		t.Errorf("terms = %v, want brown then fox", terms)
	}
	for _, term := range terms {
		if term.Term == "the" {
			t.Errorf("function word leaked into features: %v", terms)
		}
	}
	// Weights are non-increasing.
	for i := 1; i < len(terms); i++ {
		if terms[i].Weight > terms[i-1].Weight {
			t.Errorf("weights out of order: %v", terms)
		}
	}
}

func TestFeatureWeightMonotoneInTF(t *testing.T) {
	tok := New(DefaultDescriptor())
	// Same word length (same occurrence cost); higher tf must outweigh.
	terms := tok.ExtractFeatures("alpha alpha alpha gamma")
	var alpha, gamma FeatureTerm
	for _, term := range terms {
		switch term.Term {
		case "alpha":
			alpha = term
		case "gamma":
			gamma = term
		}
	}
	if alpha.TF != 3 || gamma.TF != 1 {
		t.Fatalf("tf wrong: %+v %+v", alpha, gamma)
	}
	if alpha.Weight <= gamma.Weight {
		t.Errorf("weight not monotone in tf: %v <= %v", alpha.Weight, gamma.Weight)
	}
}

func TestFeatureTieExtension(t *testing.T) {
	d := DefaultDescriptor()
	d.FeatureTopN = 2
	tok := New(d)
	// Four distinct words, all tf=1, all length 5: every weight ties, so
	// the result extends past N up to the 2N cap.
	terms := tok.ExtractFeatures("amber bloom crane delta")
	if len(terms) != 4 {
		t.Errorf("tie extension should reach 2N=4, got %d", len(terms))
	}
}

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{
		Mode:               ModeDual,
		NGramLength:        3,
		Canonicalize:       true,
		CaseFold:           true,
		WidthFold:          false,
		Stemming:           true,
		Whitespace:         WhitespaceReset,
		Language:           "en",
		MaxOccurrenceCost:  400,
		AlphabetCostFactor: 30,
		FeatureTopN:        5,
	}
	got, err := DecodeDescriptor(d.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != d {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, d)
	}
}

func TestStem(t *testing.T) {
	cases := map[string]string{
		"running": "runn",
		"jumped":  "jump",
		"cats":    "cat",
		"classes": "class",
		"glass":   "glass",
		"fox":     "fox",
	}
	for in, want := range cases {
		if got := Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}
