package query

import (
	"fmt"

	"github.com/SimonWaldherr/btreeindex/internal/btree"
	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
	"github.com/SimonWaldherr/btreeindex/internal/tokenizer"
)

// CompareOp is a predicate operator at the façade surface.
type CompareOp uint8

const (
	EQ CompareOp = iota + 1
	LT
	LE
	GT
	GE
	IsNull
	Like
)

// Comparison restricts one named column. For Like, Pattern carries the
// pattern and Value is unused.
type Comparison struct {
	Column  string
	Op      CompareOp
	Value   any
	Pattern string
}

// Predicate is the caller-facing predicate: a conjunction of per-column
// comparisons over key fields.
type Predicate struct {
	Conds []Comparison
}

var opMap = map[CompareOp]btree.Op{
	EQ:     btree.OpEQ,
	LT:     btree.OpLT,
	LE:     btree.OpLE,
	GT:     btree.OpGT,
	GE:     btree.OpGE,
	IsNull: btree.OpIsNull,
	Like:   btree.OpLike,
}

// Compile lowers a façade predicate into the engine's descriptor,
// resolving column names against the schema's key fields and normalizing
// text comparands through the file's tokenizer so query literals match
// the normalized form text keys were stored under.
func Compile(schema *codec.Schema, tok *tokenizer.Tokenizer, p Predicate) (btree.Predicate, error) {
	const op = "query.Compile"
	var out btree.Predicate
	for _, c := range p.Conds {
		idx := -1
		for i, f := range schema.Keys {
			if f.Name == c.Column {
				idx = i
				break
			}
		}
		if idx < 0 {
			return out, errs.New(op, errs.KindBadArgument, fmt.Errorf("column %q is not a key field", c.Column))
		}
		bop, ok := opMap[c.Op]
		if !ok {
			return out, errs.New(op, errs.KindBadArgument, fmt.Errorf("column %q: unknown operator %d", c.Column, uint8(c.Op)))
		}

		value := c.Value
		pattern := c.Pattern
		if tok != nil && schema.Keys[idx].Type == codec.TypeText {
			if s, isStr := value.(string); isStr {
				value = tok.Normalize(s)
			}
			if pattern != "" {
				pattern = normalizeLikePattern(tok, pattern)
			}
		}
		out.Conds = append(out.Conds, btree.Cond{Field: idx, Op: bop, Value: value, Pattern: pattern})
	}
	return out, nil
}

// normalizeLikePattern normalizes the literal spans of a LIKE pattern
// while leaving the wildcards in place.
func normalizeLikePattern(tok *tokenizer.Tokenizer, pattern string) string {
	var out []rune
	var lit []rune
	flush := func() {
		if len(lit) > 0 {
			out = append(out, []rune(tok.Normalize(string(lit)))...)
			lit = lit[:0]
		}
	}
	for _, r := range pattern {
		if r == '%' || r == '_' {
			flush()
			out = append(out, r)
			continue
		}
		lit = append(lit, r)
	}
	flush()
	return string(out)
}
