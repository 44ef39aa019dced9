package search

import "sort"

// topK maintains a size-bounded, score-descending list by binary-search
// insertion: O(n·log k + k) total versus sorting every candidate
// (spec.md §4.5 "Bounded top-k"). Ties break by insertion order — the
// database's own row order — since sort.Search finds the first element
// strictly less than the candidate, inserting after any equal-score peers.
type topK struct {
	limit   int
	results []Result
}

func newTopK(limit int) *topK {
	return &topK{limit: limit, results: make([]Result, 0, limit)}
}

func (t *topK) Insert(r Result) {
	idx := sort.Search(len(t.results), func(i int) bool {
		return t.results[i].Score < r.Score
	})

	if idx >= t.limit {
		return
	}

	t.results = append(t.results, Result{})
	copy(t.results[idx+1:], t.results[idx:])
	t.results[idx] = r

	if len(t.results) > t.limit {
		t.results = t.results[:t.limit]
	}
}

func (t *topK) Results() []Result {
	return t.results
}
