// Package topstats wraps github.com/keilerkonzept/topk (a HeavyKeeper
// top-k sketch) to give the Session housekeeper tick a cheap,
// approximate "top offenders" snapshot before evicting idle rate
// limiters. Best-effort and diagnostic only — never on the eviction
// critical path.
package topstats

import "github.com/keilerkonzept/topk"

// Tracker accumulates observation counts and reports the approximate
// top-k most frequently observed keys.
type Tracker struct {
	sketch *topk.Sketch
}

// New returns a Tracker retaining the approximate top k keys.
func New(k int) *Tracker {
	return &Tracker{sketch: topk.New(k)}
}

// Observe records one occurrence of key.
func (t *Tracker) Observe(key string) {
	t.sketch.Insert(key, 1)
}

// Top returns the approximate top-k keys by observation count, in
// descending order.
func (t *Tracker) Top() []string {
	items := t.sketch.Top()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Item)
	}
	return out
}
