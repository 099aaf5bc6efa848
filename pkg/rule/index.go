package rule

import (
	"slices"
	"sync"
)

type indexKey struct {
	target     int
	antecedent int
}

// Index is a concurrent multi-map from (target, antecedent index) to the
// accepted rules containing that pair. Rules are only ever appended.
type Index struct {
	mu      sync.Mutex
	buckets map[indexKey][]*Rule
	n       int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{buckets: make(map[indexKey][]*Rule)}
}

// Insert files r under every (target, antecedent element) pair.
func (x *Index) Insert(r *Rule) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, a := range r.Antecedent {
		k := indexKey{target: r.Target, antecedent: a}
		x.buckets[k] = append(x.buckets[k], r)
	}
	x.n++
}

// Lookup returns a snapshot of the rules filed under (target, antecedent).
func (x *Index) Lookup(target, antecedent int) []*Rule {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.buckets[indexKey{target: target, antecedent: antecedent}])
}

// IsSubsumed reports whether an indexed rule is more general than c. Any
// such rule shares at least one antecedent element with c, so probing
// each of c's elements is complete.
func (x *Index) IsSubsumed(c *Rule) bool {
	for _, a := range c.Antecedent {
		for _, r := range x.Lookup(c.Target, a) {
			if IsGeneral(r, c) {
				return true
			}
		}
	}
	return false
}

// Len returns the number of inserted rules.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.n
}
