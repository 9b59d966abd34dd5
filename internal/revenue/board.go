package revenue

import (
	"context"
	"sync"
)

// Ticket is a generation token handed out by Board.Begin.
type Ticket struct {
	key string
	gen uint64
	ctx context.Context
}

// Key returns the board key the ticket was issued for.
func (t Ticket) Key() string { return t.key }

type boardEntry struct {
	gen    uint64
	result Result
	ready  bool
	stale  bool
}

// Board holds the latest report per viewer key. Only the newest ticket for a
// key may publish its result; older or cancelled completions are dropped.
type Board struct {
	mu      sync.Mutex
	entries map[string]*boardEntry
}

// NewBoard constructs an empty board.
func NewBoard() *Board {
	return &Board{entries: make(map[string]*boardEntry)}
}

func (b *Board) entry(key string) *boardEntry {
	e, ok := b.entries[key]
	if !ok {
		e = &boardEntry{}
		b.entries[key] = e
	}
	return e
}

// Begin issues a ticket that supersedes every earlier ticket for key.
func (b *Board) Begin(ctx context.Context, key string) Ticket {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entry(key)
	e.gen++
	return Ticket{key: key, gen: e.gen, ctx: ctx}
}

// Apply stores r when t is still the newest ticket and its context is live.
func (b *Board) Apply(t Ticket, r Result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.ctx != nil && t.ctx.Err() != nil {
		return false
	}
	e, ok := b.entries[t.key]
	if !ok || e.gen != t.gen {
		return false
	}
	e.result = r
	e.ready = true
	e.stale = false
	return true
}

// Cancel abandons t. A late Apply with t will be refused.
func (b *Board) Cancel(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[t.key]; ok && e.gen == t.gen {
		e.gen++
	}
}

// Latest returns the applied result for key.
func (b *Board) Latest(key string) (r Result, stale bool, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, found := b.entries[key]
	if !found || !e.ready {
		return Result{}, false, false
	}
	return e.result.clone(), e.stale, true
}

// Expire marks every entry stale and voids outstanding tickets.
func (b *Board) Expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		e.gen++
		e.stale = true
	}
}

func (r Result) clone() Result {
	out := r
	out.ByProduct = append([]Breakdown(nil), r.ByProduct...)
	out.ByCategory = append([]Breakdown(nil), r.ByCategory...)
	out.ByCustomer = append([]Breakdown(nil), r.ByCustomer...)
	out.BySale = append([]Breakdown(nil), r.BySale...)
	out.BySaleAdmin = append([]Breakdown(nil), r.BySaleAdmin...)
	out.Trend = append([]TrendPoint(nil), r.Trend...)
	return out
}
