package market

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Book holds the latest State of every tracked symbol.
type Book struct {
	mu      sync.RWMutex
	windows Windows
	states  map[string]State
}

// NewBook creates an empty book.
func NewBook(w Windows) *Book {
	return &Book{windows: w.normalized(), states: make(map[string]State)}
}

// Seed sets a symbol's starting state, replacing anything tracked before.
func (b *Book) Seed(st State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[st.Symbol] = st
}

// Apply observes a batch of quotes. Symbols absent from quotes keep their last state.
func (b *Book) Apply(quotes map[string]Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sym, q := range quotes {
		if !q.Price.IsPositive() {
			continue
		}
		st, ok := b.states[sym]
		if !ok {
			b.states[sym] = NewState(sym, q.Price, q.Volume)
			continue
		}
		b.states[sym] = st.Observe(q.Price, q.Volume, b.windows)
	}
}

// Get returns the state of one symbol.
func (b *Book) Get(symbol string) (State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[symbol]
	return st, ok
}

// Price returns the latest price of a symbol, zero when untracked.
func (b *Book) Price(symbol string) decimal.Decimal {
	st, _ := b.Get(symbol)
	return st.Price
}

// All returns every state sorted by symbol.
func (b *Book) All() []State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]State, 0, len(b.states))
	for _, st := range b.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the tracked symbols, sorted.
func (b *Book) Symbols() []string {
	states := b.All()
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.Symbol
	}
	return out
}
