package settlement

import "sort"

// Group accumulates the records sharing one 4-character ATM reference:
// running count and total, the distinct transaction dates, and every raw
// line attributed to the reference.
type Group struct {
	Reference  string
	Channel    string
	Count      int
	TotalCents int64
	RawLines   []string

	dates map[string]struct{}
	seen  map[string]struct{}
}

func newGroup(ref, channel string) *Group {
	return &Group{
		Reference: ref,
		Channel:   channel,
		dates:     make(map[string]struct{}),
		seen:      make(map[string]struct{}),
	}
}

// Add records one transaction line: the count and total advance, a non-empty
// date joins the date set, and the raw line is retained.
func (g *Group) Add(cents int64, date, raw string) {
	g.Count++
	g.TotalCents += cents
	if date != "" {
		g.dates[date] = struct{}{}
	}
	g.AppendRaw(raw)
}

// AppendRaw attaches a raw line to the group without counting it as a
// transaction. Continuation lines of multi-line records arrive this way.
func (g *Group) AppendRaw(raw string) {
	g.RawLines = append(g.RawLines, raw)
	g.seen[raw] = struct{}{}
}

// HasRaw reports whether an identical raw line is already attributed to the
// group.
func (g *Group) HasRaw(raw string) bool {
	_, ok := g.seen[raw]
	return ok
}

// Dates returns the group's distinct transaction dates in sorted order.
func (g *Group) Dates() []string {
	out := make([]string, 0, len(g.dates))
	for d := range g.dates {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Aggregation is the result of one parse run: groups keyed by ATM reference,
// iterable in first-seen order, plus every non-blank raw line of the file.
type Aggregation struct {
	Channel  string
	RawLines []string

	order  []string
	groups map[string]*Group
}

// NewAggregation returns an empty aggregation for the given channel.
func NewAggregation(channel string) *Aggregation {
	return &Aggregation{
		Channel: channel,
		groups:  make(map[string]*Group),
	}
}

// Ensure returns the group for ref, creating it in iteration order on first
// use.
func (a *Aggregation) Ensure(ref string) *Group {
	if g, ok := a.groups[ref]; ok {
		return g
	}
	g := newGroup(ref, a.Channel)
	a.groups[ref] = g
	a.order = append(a.order, ref)
	return g
}

// Group looks up the group for ref without creating it.
func (a *Aggregation) Group(ref string) (*Group, bool) {
	g, ok := a.groups[ref]
	return g, ok
}

// Keys returns the reference keys in first-seen order.
func (a *Aggregation) Keys() []string {
	return a.order
}

// Len returns the number of groups.
func (a *Aggregation) Len() int {
	return len(a.order)
}

// TotalCents sums the totals of every group.
func (a *Aggregation) TotalCents() int64 {
	var sum int64
	for _, ref := range a.order {
		sum += a.groups[ref].TotalCents
	}
	return sum
}

// TotalCount sums the transaction counts of every group.
func (a *Aggregation) TotalCount() int {
	var n int
	for _, ref := range a.order {
		n += a.groups[ref].Count
	}
	return n
}
