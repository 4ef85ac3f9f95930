package strategy

import (
	"strings"

	"Compounder/internal/model"
)

// Address lengths accepted as transfer destinations: legacy and bech32.
const (
	LegacyAddressLength = 34
	Bech32AddressLength = 42
)

// IsAddress reports whether target looks like a wallet address.
func IsAddress(target string) bool {
	if strings.ContainsAny(target, "- \t\n") {
		return false
	}
	return len(target) == LegacyAddressLength || len(target) == Bech32AddressLength
}

// Markets is the set of pools relevant for classification, derived from
// a pool list fetched in the current cycle.
type Markets struct {
	Base      string
	Reference string
	pools     map[string]model.PoolPair
}

// NewMarkets indexes pairs by symbol.
func NewMarkets(pairs []model.PoolPair, base, reference string) Markets {
	pools := make(map[string]model.PoolPair, len(pairs))
	for _, p := range pairs {
		pools[p.Symbol] = p
	}
	return Markets{Base: base, Reference: reference, pools: pools}
}

// Pool returns the listed pool with the given symbol.
func (m Markets) Pool(symbol string) (model.PoolPair, bool) {
	p, ok := m.pools[symbol]
	return p, ok
}

// Between returns a listed pool holding both tokens, in either order.
func (m Markets) Between(a, b string) (model.PoolPair, bool) {
	if a == "" || b == "" || a == b {
		return model.PoolPair{}, false
	}
	if p, ok := m.pools[model.PairSymbol(a, b)]; ok {
		return p, true
	}
	p, ok := m.pools[model.PairSymbol(b, a)]
	return p, ok
}

// Classify maps one schedule entry to the action achieving it.
// Classification is deterministic for a fixed pool list.
func Classify(target string, m Markets) model.Decision {
	d := model.Decision{Kind: model.ActionInvalid, Target: target}

	// Step a: literal address
	if IsAddress(target) {
		d.Kind = model.ActionTransfer
		return d
	}

	// Step b: listed pool symbol
	if strings.Contains(target, "-") {
		pool, ok := m.Pool(target)
		if !ok {
			return d
		}
		d.Symbol = pool.Symbol
		switch {
		case pool.Contains(m.Base):
			d.Kind = model.ActionLiquidity
		case m.Reference != "" && pool.Contains(m.Reference):
			if _, ok := m.Between(m.Base, m.Reference); ok {
				d.Kind = model.ActionLiquidityViaReference
				d.Via = m.Reference
			}
		}
		return d
	}

	// Step c: bare token symbol
	if target == m.Base {
		return d
	}
	d.Symbol = target
	if _, ok := m.Between(target, m.Base); ok {
		d.Kind = model.ActionSwap
		return d
	}
	if target == m.Reference {
		return d
	}
	if _, ok := m.Between(target, m.Reference); ok {
		if _, ok := m.Between(m.Base, m.Reference); ok {
			d.Kind = model.ActionSwapViaReference
			d.Via = m.Reference
		}
	}
	return d
}
