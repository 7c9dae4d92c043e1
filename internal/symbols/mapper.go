package symbols

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// UnknownSymbolError is returned for pairs or symbols the mapper does not track.
type UnknownSymbolError struct {
	Symbol string
}

func (e *UnknownSymbolError) Error() string {
	return fmt.Sprintf("unknown symbol %q", e.Symbol)
}

// Mapper translates between normalized trading pairs (BTC-USDT) and exchange
// symbols (BTC_USDT). Implementations may block, e.g. while loading markets.
type Mapper interface {
	ExchangeSymbol(ctx context.Context, pair string) (string, error)
	TradingPair(ctx context.Context, symbol string) (string, error)
}

// ToPayeer converts a normalized pair to Payeer's BASE_QUOTE form.
func ToPayeer(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pair), "-", "_"))
}

// FromPayeer converts BASE_QUOTE or BASE/QUOTE to BASE-QUOTE.
func FromPayeer(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	sym = strings.ReplaceAll(sym, "_", "-")
	return strings.ReplaceAll(sym, "/", "-")
}

// StaticMapper knows a fixed set of pairs. It is safe for concurrent use and
// can be refreshed with Update.
type StaticMapper struct {
	mu         sync.RWMutex
	toExchange map[string]string
	toPair     map[string]string
}

func NewStaticMapper(pairs []string) *StaticMapper {
	m := &StaticMapper{}
	m.Update(pairs)
	return m
}

// Update replaces the known pairs.
func (m *StaticMapper) Update(pairs []string) {
	toExchange := make(map[string]string, len(pairs))
	toPair := make(map[string]string, len(pairs))
	for _, p := range pairs {
		pair := FromPayeer(p)
		sym := ToPayeer(pair)
		toExchange[pair] = sym
		toPair[sym] = pair
	}
	m.mu.Lock()
	m.toExchange = toExchange
	m.toPair = toPair
	m.mu.Unlock()
}

func (m *StaticMapper) ExchangeSymbol(_ context.Context, pair string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sym, ok := m.toExchange[pair]; ok {
		return sym, nil
	}
	return "", &UnknownSymbolError{Symbol: pair}
}

func (m *StaticMapper) TradingPair(_ context.Context, symbol string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pair, ok := m.toPair[ToPayeer(FromPayeer(symbol))]; ok {
		return pair, nil
	}
	return "", &UnknownSymbolError{Symbol: symbol}
}

// Pairs returns the known normalized pairs.
func (m *StaticMapper) Pairs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.toExchange))
	for p := range m.toExchange {
		out = append(out, p)
	}
	return out
}
