package btree

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/btreeindex/internal/codec"
	"github.com/SimonWaldherr/btreeindex/internal/errs"
)

// Op is a comparison operator appearing in a search predicate.
type Op uint8

const (
	OpEQ Op = iota + 1
	OpLT
	OpLE
	OpGT
	OpGE
	OpIsNull
	OpLike
)

func (o Op) String() string {
	switch o {
	case OpEQ:
		return "="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpIsNull:
		return "is null"
	case OpLike:
		return "like"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Cond restricts one key field. For OpLike, Pattern carries the LIKE
// pattern ('%' matches any run, '_' one character) and Value is unused.
type Cond struct {
	Field   int
	Op      Op
	Value   any
	Pattern string
}

// Predicate is the set of per-field restrictions the engine resolves into
// one sorted scan plus residual filters. Conds must be ordered by Field;
// at most one cond per field, except that a single field may carry a
// lower/upper pair forming a span (a < k < b).
type Predicate struct {
	Conds []Cond
}

// residualFilter is a per-candidate check that cannot be folded into the
// scan boundaries: gap-field restrictions and the LIKE postfilter. A
// failing filter skips the candidate and keeps scanning, unlike a
// boundary violation which exhausts the iterator.
type residualFilter func(key []any) bool

// scanPlan is a compiled predicate: composite lower/upper boundary key
// prefixes (under the file's directional composite order) plus residual
// filters.
type scanPlan struct {
	lower       []any
	lowerStrict bool
	hasLower    bool
	upper       []any
	upperStrict bool
	hasUpper    bool
	residual    []residualFilter
}

// naturalCompare compares two field values ignoring the field's declared
// direction, with NULL greater than every non-null value.
func naturalCompare(a, b any, t codec.Type) int {
	an, bn := a == nil, b == nil
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	return codec.Compare(a, b, t)
}

// boundSide says which composite-order boundary a natural-order operator
// lands on for a field of the given direction: a "greater than" restriction
// is a scan lower bound on an ascending field but an upper bound on a
// descending one.
func boundSide(op Op, dir codec.Direction) (lower, strict bool) {
	switch op {
	case OpGT:
		lower, strict = true, true
	case OpGE:
		lower, strict = true, false
	case OpLT:
		lower, strict = false, true
	case OpLE:
		lower, strict = false, false
	}
	if dir == codec.Desc {
		lower = !lower
	}
	return lower, strict
}

// splitLikePattern returns the literal prefix of a LIKE pattern (up to the
// first wildcard) and whether the pattern contains any wildcard at all.
func splitLikePattern(pattern string) (prefix string, hasWildcard bool) {
	i := strings.IndexAny(pattern, "%_")
	if i < 0 {
		return pattern, false
	}
	return pattern[:i], true
}

// prefixSuccessor returns the smallest string greater than every string
// having s as a prefix, used to turn a prefix restriction into a bounded
// range. ok is false when no such string exists (s empty or all 0xFF).
func prefixSuccessor(s string) (string, bool) {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

// matchLike evaluates a LIKE pattern against s: '%' matches any run of
// characters, '_' exactly one.
func matchLike(pattern, s string) bool {
	p := []rune(pattern)
	t := []rune(s)
	return likeMatch(p, t)
}

func likeMatch(p, s []rune) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for i := 0; i <= len(s); i++ {
				if likeMatch(p[1:], s[i:]) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
			p, s = p[1:], s[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			p, s = p[1:], s[1:]
		}
	}
	return len(s) == 0
}

// extendLower/extendUpper set that boundary side to prefix followed by v,
// with the given strictness.
func (sp *scanPlan) extendLower(prefix []any, v any, strict bool) {
	sp.lower = append(append([]any{}, prefix...), v)
	sp.lowerStrict = strict
	sp.hasLower = true
}

func (sp *scanPlan) extendUpper(prefix []any, v any, strict bool) {
	sp.upper = append(append([]any{}, prefix...), v)
	sp.upperStrict = strict
	sp.hasUpper = true
}

// compile resolves a predicate into a scan plan: equalities on a
// contiguous key prefix narrow both
// boundaries; the first non-equality restriction on the next field closes
// one or both; everything beyond (including gap-field restrictions)
// becomes a residual filter over the decoded key.
func (t *Tree) compile(p Predicate) (scanPlan, error) {
	const op = "btree.Search"
	var sp scanPlan

	byField := make(map[int][]Cond)
	maxField := -1
	for _, c := range p.Conds {
		if c.Field < 0 || c.Field >= t.numKeys() {
			return sp, errs.New(op, errs.KindBadArgument, fmt.Errorf("key field index %d out of range [0..%d)", c.Field, t.numKeys()))
		}
		if err := t.checkCond(c); err != nil {
			return sp, errs.New(op, errs.KindBadArgument, err)
		}
		byField[c.Field] = append(byField[c.Field], c)
		if c.Field > maxField {
			maxField = c.Field
		}
	}

	var eqPrefix []any
	bounded := false
	for f := 0; f <= maxField; f++ {
		conds := byField[f]
		if len(conds) == 0 || bounded {
			// Gap field (or fields past the bounding restriction): the scan
			// range stays as narrow as the prefix allows and the field is
			// filtered per candidate.
			for _, c := range conds {
				sp.residual = append(sp.residual, t.residualFor(c))
			}
			if len(conds) == 0 && f < maxField {
				bounded = true
			}
			continue
		}
		if len(conds) > 2 {
			return sp, errs.New(op, errs.KindBadArgument, fmt.Errorf("field %d restricted %d times", f, len(conds)))
		}
		if len(conds) == 2 {
			// Span: one natural-lower and one natural-upper restriction.
			if err := sp.applySpan(t.schema.Keys[f], eqPrefix, conds); err != nil {
				return sp, errs.New(op, errs.KindBadArgument, err)
			}
			bounded = true
			continue
		}

		c := conds[0]
		dir := t.schema.Keys[f].Direction
		switch c.Op {
		case OpEQ:
			eqPrefix = append(eqPrefix, c.Value)
			sp.lower, sp.hasLower = append([]any{}, eqPrefix...), true
			sp.upper, sp.hasUpper = append([]any{}, eqPrefix...), true
			sp.lowerStrict, sp.upperStrict = false, false
		case OpIsNull:
			eqPrefix = append(eqPrefix, nil)
			sp.lower, sp.hasLower = append([]any{}, eqPrefix...), true
			sp.upper, sp.hasUpper = append([]any{}, eqPrefix...), true
			sp.lowerStrict, sp.upperStrict = false, false
		case OpLT, OpLE, OpGT, OpGE:
			lower, strict := boundSide(c.Op, dir)
			if lower {
				sp.extendLower(eqPrefix, c.Value, strict)
				if len(eqPrefix) > 0 {
					sp.upper, sp.hasUpper = append([]any{}, eqPrefix...), true
					sp.upperStrict = false
				}
			} else {
				sp.extendUpper(eqPrefix, c.Value, strict)
				if len(eqPrefix) > 0 {
					sp.lower, sp.hasLower = append([]any{}, eqPrefix...), true
					sp.lowerStrict = false
				}
			}
			bounded = true
		case OpLike:
			prefix, wildcard := splitLikePattern(c.Pattern)
			if !wildcard {
				// No wildcard: plain equality on the literal.
				eqPrefix = append(eqPrefix, prefix)
				sp.lower, sp.hasLower = append([]any{}, eqPrefix...), true
				sp.upper, sp.hasUpper = append([]any{}, eqPrefix...), true
				sp.lowerStrict, sp.upperStrict = false, false
				continue
			}
			if prefix != "" {
				succ, hasSucc := prefixSuccessor(prefix)
				if dir == codec.Desc {
					if hasSucc {
						sp.extendLower(eqPrefix, succ, true)
					}
					sp.extendUpper(eqPrefix, prefix, false)
				} else {
					sp.extendLower(eqPrefix, prefix, false)
					if hasSucc {
						sp.extendUpper(eqPrefix, succ, true)
					}
				}
			}
			sp.residual = append(sp.residual, t.residualFor(c))
			bounded = true
		}
	}
	return sp, nil
}

func (sp *scanPlan) applySpan(fd codec.FieldDef, eqPrefix []any, conds []Cond) error {
	var haveLo, haveHi bool
	for _, c := range conds {
		switch c.Op {
		case OpGT, OpGE, OpLT, OpLE:
		default:
			return fmt.Errorf("span on field %q needs two range operators, got %s", fd.Name, c.Op)
		}
		lower, strict := boundSide(c.Op, fd.Direction)
		if lower {
			if haveLo {
				return fmt.Errorf("field %q has two lower bounds", fd.Name)
			}
			sp.extendLower(eqPrefix, c.Value, strict)
			haveLo = true
		} else {
			if haveHi {
				return fmt.Errorf("field %q has two upper bounds", fd.Name)
			}
			sp.extendUpper(eqPrefix, c.Value, strict)
			haveHi = true
		}
	}
	return nil
}

func (t *Tree) checkCond(c Cond) error {
	fd := t.schema.Keys[c.Field]
	switch c.Op {
	case OpEQ, OpLT, OpLE, OpGT, OpGE:
		if c.Value == nil {
			return fmt.Errorf("field %q: %s needs a non-null comparand (use is-null)", fd.Name, c.Op)
		}
	case OpIsNull:
	case OpLike:
		if fd.Type != codec.TypeString && fd.Type != codec.TypeText {
			return fmt.Errorf("field %q: LIKE requires a string or text field, have %s", fd.Name, fd.Type)
		}
	default:
		return fmt.Errorf("field %q: unknown operator %d", fd.Name, uint8(c.Op))
	}
	return nil
}

// residualFor builds the per-candidate filter for a cond that cannot
// narrow the scan range.
func (t *Tree) residualFor(c Cond) residualFilter {
	fd := t.schema.Keys[c.Field]
	field := c.Field
	switch c.Op {
	case OpIsNull:
		return func(key []any) bool { return key[field] == nil }
	case OpLike:
		pattern := c.Pattern
		return func(key []any) bool {
			s, ok := key[field].(string)
			return ok && matchLike(pattern, s)
		}
	default:
		op, v := c.Op, c.Value
		return func(key []any) bool {
			cmp := naturalCompare(key[field], v, fd.Type)
			switch op {
			case OpEQ:
				return cmp == 0
			case OpLT:
				return cmp < 0 && key[field] != nil
			case OpLE:
				return cmp <= 0
			case OpGT:
				return cmp > 0
			case OpGE:
				return cmp >= 0
			}
			return false
		}
	}
}

// fetchPlan builds the plan used by Fetch: every record whose composite
// key starts with keyPrefix, i.e. equality on the prefix.
func (t *Tree) fetchPlan(keyPrefix []any) (scanPlan, error) {
	if len(keyPrefix) < 1 || len(keyPrefix) > t.numKeys() {
		return scanPlan{}, errs.New("btree.Fetch", errs.KindBadArgument,
			fmt.Errorf("key prefix length %d out of range [1..%d]", len(keyPrefix), t.numKeys()))
	}
	p := append([]any{}, keyPrefix...)
	return scanPlan{lower: p, hasLower: true, upper: p, hasUpper: true}, nil
}
