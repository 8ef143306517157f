package caps

import "sort"

// FeatureSet is a set of feature strings.
type FeatureSet map[string]struct{}

// NewFeatureSet creates a set holding features.
func NewFeatureSet(features ...string) FeatureSet {
	fs := FeatureSet{}
	for _, f := range features {
		fs.Add(f)
	}
	return fs
}

// Add inserts f. Empty strings are ignored.
func (fs FeatureSet) Add(f string) {
	if f != "" {
		fs[f] = struct{}{}
	}
}

// Has reports whether f is in the set.
func (fs FeatureSet) Has(f string) bool {
	_, ok := fs[f]
	return ok
}

// Union adds every feature of other to fs.
func (fs FeatureSet) Union(other FeatureSet) {
	for f := range other {
		fs[f] = struct{}{}
	}
}

// Sorted returns the features in lexical order.
func (fs FeatureSet) Sorted() []string {
	out := make([]string, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
