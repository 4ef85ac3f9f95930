package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"Compounder/internal/calculator"
	clierr "Compounder/internal/errors"
	"Compounder/internal/model"
)

// Call is one recorded Gateway invocation of the in-memory ledger.
type Call struct {
	Method string
	Detail string
}

type pendingEffect struct {
	remaining int
	apply     func()
}

// Memory is an in-process ledger used for dry runs and tests.
// Mutations are validated when submitted and become visible after Lag reads.
type Memory struct {
	mu sync.Mutex

	baseSymbol string
	passphrase string
	unlocked   bool

	spendable decimal.Decimal
	owners    []string
	accounts  map[string]model.Balances
	pairs     []*model.PoolPair
	sent      map[string]decimal.Decimal

	// Lag is the number of balance reads that still return the state from
	// before a submitted mutation.
	Lag int
	// Fee is charged on spendable for every transaction sending funds out.
	Fee decimal.Decimal

	pending []*pendingEffect
	calls   []Call
	failOn  map[string]error
}

// NewMemory creates an empty in-memory ledger whose UTXO token is baseSymbol.
func NewMemory(baseSymbol, passphrase string) *Memory {
	return &Memory{
		baseSymbol: baseSymbol,
		passphrase: passphrase,
		accounts:   map[string]model.Balances{},
		sent:       map[string]decimal.Decimal{},
		failOn:     map[string]error{},
	}
}

// SetSpendable sets the spendable balance.
func (m *Memory) SetSpendable(amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spendable = amount
}

// SetBalance sets the token balance of owner.
func (m *Memory) SetBalance(owner, symbol string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account(owner)[symbol] = amount
}

// AddPair registers a pool.
func (m *Memory) AddPair(pair model.PoolPair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := pair
	m.pairs = append(m.pairs, &p)
}

// FailOn makes every later call of method return err. A nil err clears it.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOn, method)
		return
	}
	m.failOn[method] = err
}

// Spendable returns the current spendable balance, pending effects included.
func (m *Memory) Spendable() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush()
	return m.spendable
}

// Balance returns the current balance of owner, pending effects included.
func (m *Memory) Balance(owner, symbol string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush()
	return m.accounts[owner].Get(symbol)
}

// Sent returns the total sent to an address.
func (m *Memory) Sent(address string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush()
	return m.sent[address]
}

// Pair returns the current state of the pool with the given symbol.
func (m *Memory) Pair(symbol string) (model.PoolPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flush()
	for _, p := range m.pairs {
		if p.Symbol == symbol {
			return *p, true
		}
	}
	return model.PoolPair{}, false
}

// Unlocked reports whether signing is currently enabled.
func (m *Memory) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// Calls returns the recorded invocations in order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Methods returns the recorded method names in order.
func (m *Memory) Methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	methods := make([]string, len(m.calls))
	for i, c := range m.calls {
		methods[i] = c.Method
	}
	return methods
}

func (m *Memory) account(owner string) model.Balances {
	b, ok := m.accounts[owner]
	if !ok {
		b = model.Balances{}
		m.accounts[owner] = b
		m.owners = append(m.owners, owner)
	}
	return b
}

func (m *Memory) record(ctx context.Context, method, format string, args ...any) error {
	m.calls = append(m.calls, Call{Method: method, Detail: fmt.Sprintf(format, args...)})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := m.failOn[method]; ok {
		return clierr.Wrap(clierr.CodeLedger, method, err)
	}
	return nil
}

// tick advances pending effects by one read.
func (m *Memory) tick() {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.remaining > 0 {
			p.remaining--
			kept = append(kept, p)
			continue
		}
		p.apply()
	}
	m.pending = kept
}

func (m *Memory) flush() {
	for _, p := range m.pending {
		p.apply()
	}
	m.pending = nil
}

func (m *Memory) submit(apply func()) string {
	if m.Lag <= 0 {
		apply()
	} else {
		m.pending = append(m.pending, &pendingEffect{remaining: m.Lag, apply: apply})
	}
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (m *Memory) signer(method string) error {
	if !m.unlocked {
		return clierr.Wrap(clierr.CodeLedger, method, ErrWalletLocked)
	}
	return nil
}

func insufficient(method, what string) error {
	return clierr.Wrap(clierr.CodeLedger, method, &RPCError{Code: -32600, Message: "Insufficient funds: " + what})
}

func (m *Memory) SpendableBalance(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, "getbalance", ""); err != nil {
		return decimal.Zero, err
	}
	m.tick()
	return m.spendable, nil
}

func (m *Memory) TokenBalances(ctx context.Context, scope Scope) (model.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	method := "gettokenbalances"
	if scope.Owner != "" {
		method = "getaccount"
	}
	if err := m.record(ctx, method, "%s", scope.Owner); err != nil {
		return nil, err
	}
	m.tick()

	out := model.Balances{}
	for owner, b := range m.accounts {
		if scope.Owner != "" && owner != scope.Owner {
			continue
		}
		for symbol, amount := range b {
			if amount.IsZero() {
				continue
			}
			out[symbol] = out.Get(symbol).Add(amount)
		}
	}
	return out, nil
}

func (m *Memory) SubAccounts(ctx context.Context) ([]model.SubAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, "listaccounts", ""); err != nil {
		return nil, err
	}
	m.tick()

	var accounts []model.SubAccount
	for _, owner := range m.owners {
		b := model.Balances{}
		for symbol, amount := range m.accounts[owner] {
			if !amount.IsZero() {
				b[symbol] = amount
			}
		}
		if len(b) > 0 {
			accounts = append(accounts, model.SubAccount{Owner: owner, Balances: b})
		}
	}
	return accounts, nil
}

func (m *Memory) PoolPairs(ctx context.Context) ([]model.PoolPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, "listpoolpairs", ""); err != nil {
		return nil, err
	}
	pairs := make([]model.PoolPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		pairs = append(pairs, *p)
	}
	sort.SliceStable(pairs, func(i, j int) bool { return lessID(pairs[i].ID, pairs[j].ID) })
	return pairs, nil
}

func (m *Memory) UnlockSigning(ctx context.Context, secret string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, "walletpassphrase", "%s", d); err != nil {
		return err
	}
	if secret != m.passphrase {
		return clierr.Wrap(clierr.CodeLedger, "walletpassphrase", &RPCError{Code: -14, Message: "Error: The wallet passphrase entered was incorrect."})
	}
	m.unlocked = true
	return nil
}

func (m *Memory) LockSigning(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, "walletlock", ""); err != nil {
		return err
	}
	m.unlocked = false
	return nil
}

func (m *Memory) AccountToSpendable(ctx context.Context, owner string, amount decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "accounttoutxos"
	if err := m.record(ctx, method, "%s %s", owner, amount); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	if m.accounts[owner].Get(m.baseSymbol).LessThan(amount) {
		return "", insufficient(method, owner)
	}
	if m.spendable.Add(amount).LessThan(m.Fee) {
		return "", insufficient(method, "spendable")
	}
	return m.submit(func() {
		b := m.account(owner)
		b[m.baseSymbol] = b.Get(m.baseSymbol).Sub(amount)
		// the fee is paid from the wallet's outputs
		m.spendable = m.spendable.Add(amount).Sub(m.Fee)
	}), nil
}

func (m *Memory) SpendableToAccount(ctx context.Context, owner string, amount decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "utxostoaccount"
	if err := m.record(ctx, method, "%s %s", owner, amount); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	if m.spendable.LessThan(amount.Add(m.Fee)) {
		return "", insufficient(method, "spendable")
	}
	return m.submit(func() {
		m.spendable = m.spendable.Sub(amount).Sub(m.Fee)
		b := m.account(owner)
		b[m.baseSymbol] = b.Get(m.baseSymbol).Add(amount)
	}), nil
}

func (m *Memory) AccountToAccount(ctx context.Context, from, to string, amount model.TokenAmount) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "accounttoaccount"
	if err := m.record(ctx, method, "%s %s %s", from, to, amount); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	if m.accounts[from].Get(amount.Symbol).LessThan(amount.Amount) {
		return "", insufficient(method, from)
	}
	return m.submit(func() {
		src, dst := m.account(from), m.account(to)
		src[amount.Symbol] = src.Get(amount.Symbol).Sub(amount.Amount)
		dst[amount.Symbol] = dst.Get(amount.Symbol).Add(amount.Amount)
	}), nil
}

func (m *Memory) pairFor(a, b string) *model.PoolPair {
	for _, p := range m.pairs {
		if p.Contains(a) && p.Contains(b) && a != b {
			return p
		}
	}
	return nil
}

func (m *Memory) Swap(ctx context.Context, req SwapRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "poolswap"
	if err := m.record(ctx, method, "%s %s@%s -> %s %s", req.From, req.AmountFrom, req.TokenFrom, req.To, req.TokenTo); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	pair := m.pairFor(req.TokenFrom, req.TokenTo)
	if pair == nil {
		return "", clierr.Wrap(clierr.CodeLedger, method, &RPCError{Code: -32600, Message: "Cannot find usable pool pair"})
	}
	if m.accounts[req.From].Get(req.TokenFrom).LessThan(req.AmountFrom) {
		return "", insufficient(method, req.From)
	}
	out, err := calculator.SwapOutput(*pair, req.TokenFrom, req.AmountFrom)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeLedger, method, err)
	}
	return m.submit(func() {
		src, dst := m.account(req.From), m.account(req.To)
		src[req.TokenFrom] = src.Get(req.TokenFrom).Sub(req.AmountFrom)
		dst[req.TokenTo] = dst.Get(req.TokenTo).Add(out)
		tokenA, _ := pair.Tokens()
		if tokenA == req.TokenFrom {
			pair.ReserveA = pair.ReserveA.Add(req.AmountFrom)
			pair.ReserveB = pair.ReserveB.Sub(out)
		} else {
			pair.ReserveB = pair.ReserveB.Add(req.AmountFrom)
			pair.ReserveA = pair.ReserveA.Sub(out)
		}
	}), nil
}

func (m *Memory) AddLiquidity(ctx context.Context, owner string, a, b model.TokenAmount) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "addpoolliquidity"
	if err := m.record(ctx, method, "%s %s %s", owner, a, b); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	pair := m.pairFor(a.Symbol, b.Symbol)
	if pair == nil {
		return "", clierr.Wrap(clierr.CodeLedger, method, &RPCError{Code: -32600, Message: "there is no such pool pair"})
	}
	acc := m.accounts[owner]
	if acc.Get(a.Symbol).LessThan(a.Amount) || acc.Get(b.Symbol).LessThan(b.Amount) {
		return "", insufficient(method, owner)
	}

	tokenA, _ := pair.Tokens()
	amountA, amountB := a.Amount, b.Amount
	if tokenA != a.Symbol {
		amountA, amountB = b.Amount, a.Amount
	}
	shares := amountA
	if !pair.TotalLiquidity.IsZero() && !pair.ReserveA.IsZero() && !pair.ReserveB.IsZero() {
		byA := amountA.Mul(pair.TotalLiquidity).DivRound(pair.ReserveA, 16)
		byB := amountB.Mul(pair.TotalLiquidity).DivRound(pair.ReserveB, 16)
		shares = decimal.Min(byA, byB)
	}
	shares = calculator.Quantize(shares)

	return m.submit(func() {
		acc := m.account(owner)
		acc[a.Symbol] = acc.Get(a.Symbol).Sub(a.Amount)
		acc[b.Symbol] = acc.Get(b.Symbol).Sub(b.Amount)
		acc[pair.Symbol] = acc.Get(pair.Symbol).Add(shares)
		pair.ReserveA = pair.ReserveA.Add(amountA)
		pair.ReserveB = pair.ReserveB.Add(amountB)
		pair.TotalLiquidity = pair.TotalLiquidity.Add(shares)
	}), nil
}

func (m *Memory) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const method = "sendtoaddress"
	if err := m.record(ctx, method, "%s %s", address, amount); err != nil {
		return "", err
	}
	if err := m.signer(method); err != nil {
		return "", err
	}
	if m.spendable.LessThan(amount.Add(m.Fee)) {
		return "", insufficient(method, "spendable")
	}
	return m.submit(func() {
		m.spendable = m.spendable.Sub(amount).Sub(m.Fee)
		m.sent[address] = m.sent[address].Add(amount)
	}), nil
}
