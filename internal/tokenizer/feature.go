package tokenizer

import (
	"math"
	"sort"
)

// FeatureTerm is one extracted feature with its term frequency and final
// weight.
type FeatureTerm struct {
	Term   string
	TF     int
	Weight float64
}

// ExtractFeatures scans text and returns the top feature terms by
// weight: nouns and unknown-but-alphabetic tokens of
// length >= 2 are candidates; a noun's occurrence cost is the
// analyzer-supplied cost capped at MaxOccurrenceCost, an alphabetic
// unknown's is AlphabetCostFactor * ln(len); the final weight is
// ln(tf+1) * cost. The result holds the top N by descending weight,
// extended past N while consecutive weights tie, never beyond 2N.
func (t *Tokenizer) ExtractFeatures(text string) []FeatureTerm {
	type stat struct {
		tf   int
		cost float64
	}
	terms := make(map[string]*stat)

	an := t.analyzer()
	an.Prepare(t.Normalize(text), t.desc.Language)
	for {
		tok, ok := an.NextWord()
		if !ok {
			break
		}
		var cost float64
		switch tok.Pos {
		case PosNoun:
			c := tok.Cost
			if c > t.desc.MaxOccurrenceCost {
				c = t.desc.MaxOccurrenceCost
			}
			cost = float64(c)
		case PosUnknown:
			if tok.Length < 2 {
				continue
			}
			cost = t.desc.AlphabetCostFactor * math.Log(float64(tok.Length))
		default:
			continue
		}
		s := terms[tok.Surface]
		if s == nil {
			s = &stat{cost: cost}
			terms[tok.Surface] = s
		}
		s.tf++
	}

	out := make([]FeatureTerm, 0, len(terms))
	for term, s := range terms {
		out = append(out, FeatureTerm{
			Term:   term,
			TF:     s.tf,
			Weight: math.Log(float64(s.tf)+1) * s.cost,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Term < out[j].Term
	})

	n := t.desc.FeatureTopN
	if len(out) <= n {
		return out
	}
	// Extend past N while weights tie with the Nth, up to 2N.
	cut := n
	for cut < len(out) && cut < 2*n && out[cut].Weight == out[n-1].Weight {
		cut++
	}
	return out[:cut]
}
