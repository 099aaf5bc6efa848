// Package rule holds rule candidates and the two shared structures the
// miner's workers coordinate through: the frontier Queue and the
// subsumption Index.
package rule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/assocminer/pkg/errs"
)

// MaxDepth is the hard upper bound on antecedent length.
const MaxDepth = 32

// Rule is a candidate or accepted rule "Antecedent -> Target". Indices
// refer to the miner's image universe. Antecedent is strictly increasing.
type Rule struct {
	Target       int
	Antecedent   []int
	Confidence   float64
	Significance float64
}

// Seed returns the empty-antecedent candidate for target.
func Seed(target int) *Rule {
	return &Rule{Target: target}
}

// Depth returns the antecedent length.
func (r *Rule) Depth() int {
	return len(r.Antecedent)
}

// Last returns the last antecedent index, or -1 for an empty antecedent.
func (r *Rule) Last() int {
	if len(r.Antecedent) == 0 {
		return -1
	}
	return r.Antecedent[len(r.Antecedent)-1]
}

// Extend returns a copy of r with i appended. i must be greater than every
// index already in the antecedent.
func (r *Rule) Extend(i int) *Rule {
	if i <= r.Last() {
		panic(fmt.Sprintf("rule: extending %s with %d breaks antecedent order", r.Key(), i))
	}
	ante := make([]int, len(r.Antecedent), len(r.Antecedent)+1)
	copy(ante, r.Antecedent)
	return &Rule{Target: r.Target, Antecedent: append(ante, i)}
}

// Valid checks the antecedent ordering and length.
func (r *Rule) Valid() error {
	if len(r.Antecedent) > MaxDepth {
		return errs.Order("rule", "antecedent length %d exceeds %d", len(r.Antecedent), MaxDepth)
	}
	for i := 1; i < len(r.Antecedent); i++ {
		if r.Antecedent[i] <= r.Antecedent[i-1] {
			return errs.Order("rule", "antecedent %v is not strictly increasing", r.Antecedent)
		}
	}
	return nil
}

// Key renders "target:a,b,c". Two candidates with the same Key describe
// the same itemset.
func (r *Rule) Key() string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(r.Target))
	sb.WriteByte(':')
	for i, a := range r.Antecedent {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(a))
	}
	return sb.String()
}

// IsGeneral reports whether general has the same target as specific and
// an antecedent that is a subset of specific's. Both antecedents must be
// sorted.
func IsGeneral(general, specific *Rule) bool {
	if general.Target != specific.Target {
		return false
	}
	g, s := general.Antecedent, specific.Antecedent
	if len(g) > len(s) {
		return false
	}
	i, j := 0, 0
	for i < len(g) && j < len(s) {
		switch {
		case g[i] == s[j]:
			i++
			j++
		case g[i] > s[j]:
			j++
		default:
			// g[i] is missing from s.
			return false
		}
	}
	return i == len(g)
}
