package domain

// tally accumulates counts per key, merging repeated keys by addition and
// remembering first-seen order so output is deterministic.
type tally[K comparable] struct {
	order  []K
	counts map[K]int
}

func newTally[K comparable]() *tally[K] {
	return &tally[K]{counts: make(map[K]int)}
}

// add merges n into key.
func (t *tally[K]) add(key K, n int) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key] += n
}

func (t *tally[K]) each(fn func(key K, count int)) {
	for _, k := range t.order {
		fn(k, t.counts[k])
	}
}

func (t *tally[K]) len() int { return len(t.order) }
