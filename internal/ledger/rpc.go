package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "Compounder/internal/errors"
	"Compounder/internal/model"
)

// Default configuration values.
const (
	DefaultTimeout    = 10 * time.Minute
	DefaultTokenLimit = 1000
	DefaultBaseSymbol = "DFI"
)

// RPCClient implements Gateway against a node's JSON-RPC endpoint.
type RPCClient struct {
	client     *rpc.Client
	endpoint   string
	timeout    time.Duration
	tokenLimit int
	baseSymbol string
	logger     *zap.Logger
}

// ClientOption configures RPCClient.
type ClientOption func(*RPCClient)

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RPCClient) { c.timeout = d }
}

// WithTokenLimit sets the page size of list calls.
func WithTokenLimit(n int) ClientOption {
	return func(c *RPCClient) { c.tokenLimit = n }
}

// WithBaseSymbol sets the symbol of the token held as UTXO.
func WithBaseSymbol(symbol string) ClientOption {
	return func(c *RPCClient) { c.baseSymbol = symbol }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *RPCClient) { c.logger = logger }
}

// Dial connects to the node. Credentials in the URL userinfo are sent as basic auth.
func Dial(ctx context.Context, rawURL string, opts ...ClientOption) (*RPCClient, error) {
	c := &RPCClient{
		timeout:    DefaultTimeout,
		tokenLimit: DefaultTokenLimit,
		baseSymbol: DefaultBaseSymbol,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "parse rpc url", err)
	}
	var dialOpts []rpc.ClientOption
	if u.User != nil {
		user := u.User.Username()
		pass, _ := u.User.Password()
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		dialOpts = append(dialOpts, rpc.WithHTTPAuth(func(h http.Header) error {
			h.Set("Authorization", "Basic "+token)
			return nil
		}))
		u.User = nil
	}
	dialOpts = append(dialOpts, rpc.WithHTTPClient(&http.Client{Timeout: c.timeout}))

	client, err := rpc.DialOptions(ctx, u.String(), dialOpts...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeLedger, "connect rpc", err)
	}
	c.client = client
	c.endpoint = u.Redacted()
	return c, nil
}

// Close closes the underlying RPC client.
func (c *RPCClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Endpoint returns the node URL without credentials.
func (c *RPCClient) Endpoint() string { return c.endpoint }

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	start := time.Now()
	err := c.client.CallContext(ctx, result, method, args...)
	if err != nil {
		c.logger.Debug("rpc call failed", zap.String("method", method), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return clierr.Wrap(clierr.CodeLedger, method, decodeError(err))
	}
	c.logger.Debug("rpc call", zap.String("method", method), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *RPCClient) page() map[string]any {
	return map[string]any{"start": 0, "including_start": true, "limit": c.tokenLimit}
}

// number renders an amount as a bare JSON number at ledger precision.
func number(amount decimal.Decimal) json.Number {
	return json.Number(amount.StringFixed(model.Precision))
}

func (c *RPCClient) SpendableBalance(ctx context.Context) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.call(ctx, &balance, "getbalance"); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (c *RPCClient) TokenBalances(ctx context.Context, scope Scope) (model.Balances, error) {
	if scope.Owner == "" {
		raw := map[string]decimal.Decimal{}
		if err := c.call(ctx, &raw, "gettokenbalances", map[string]any{"limit": c.tokenLimit}, true, true); err != nil {
			return nil, err
		}
		return model.Balances(raw), nil
	}

	var amounts []string
	if err := c.call(ctx, &amounts, "getaccount", scope.Owner, map[string]any{"limit": c.tokenLimit}, false); err != nil {
		return nil, err
	}
	balances := make(model.Balances, len(amounts))
	for _, s := range amounts {
		ta, err := model.ParseTokenAmount(s)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeLedger, "getaccount", err)
		}
		balances[ta.Symbol] = balances.Get(ta.Symbol).Add(ta.Amount)
	}
	return balances, nil
}

type accountEntry struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

func (c *RPCClient) SubAccounts(ctx context.Context) ([]model.SubAccount, error) {
	var entries []accountEntry
	if err := c.call(ctx, &entries, "listaccounts", map[string]any{"limit": c.tokenLimit}, false, false, true); err != nil {
		return nil, err
	}

	byOwner := map[string]model.Balances{}
	var owners []string
	for _, e := range entries {
		ta, err := model.ParseTokenAmount(e.Amount)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeLedger, "listaccounts", err)
		}
		b, ok := byOwner[e.Owner]
		if !ok {
			b = model.Balances{}
			byOwner[e.Owner] = b
			owners = append(owners, e.Owner)
		}
		b[ta.Symbol] = b.Get(ta.Symbol).Add(ta.Amount)
	}

	accounts := make([]model.SubAccount, 0, len(owners))
	for _, owner := range owners {
		accounts = append(accounts, model.SubAccount{Owner: owner, Balances: byOwner[owner]})
	}
	return accounts, nil
}

type poolPairEntry struct {
	Symbol         string          `json:"symbol"`
	ReserveA       decimal.Decimal `json:"reserveA"`
	ReserveB       decimal.Decimal `json:"reserveB"`
	TotalLiquidity decimal.Decimal `json:"totalLiquidity"`
}

func (c *RPCClient) PoolPairs(ctx context.Context) ([]model.PoolPair, error) {
	raw := map[string]poolPairEntry{}
	if err := c.call(ctx, &raw, "listpoolpairs", c.page(), true); err != nil {
		return nil, err
	}

	pairs := make([]model.PoolPair, 0, len(raw))
	for id, p := range raw {
		pairs = append(pairs, model.PoolPair{
			ID:             id,
			Symbol:         p.Symbol,
			ReserveA:       p.ReserveA,
			ReserveB:       p.ReserveB,
			TotalLiquidity: p.TotalLiquidity,
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return lessID(pairs[i].ID, pairs[j].ID) })
	return pairs, nil
}

func lessID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}

func (c *RPCClient) UnlockSigning(ctx context.Context, secret string, d time.Duration) error {
	return c.call(ctx, nil, "walletpassphrase", secret, int64(d/time.Second))
}

func (c *RPCClient) LockSigning(ctx context.Context) error {
	return c.call(ctx, nil, "walletlock")
}

func (c *RPCClient) base(amount decimal.Decimal) string {
	return model.TokenAmount{Symbol: c.baseSymbol, Amount: amount}.String()
}

func (c *RPCClient) AccountToSpendable(ctx context.Context, owner string, amount decimal.Decimal) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "accounttoutxos", owner, map[string]string{owner: c.base(amount)})
	return txid, err
}

func (c *RPCClient) SpendableToAccount(ctx context.Context, owner string, amount decimal.Decimal) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "utxostoaccount", map[string]string{owner: c.base(amount)})
	return txid, err
}

func (c *RPCClient) AccountToAccount(ctx context.Context, from, to string, amount model.TokenAmount) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "accounttoaccount", from, map[string]string{to: amount.String()})
	return txid, err
}

func (c *RPCClient) Swap(ctx context.Context, req SwapRequest) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "poolswap", map[string]any{
		"from":       req.From,
		"tokenFrom":  req.TokenFrom,
		"amountFrom": number(req.AmountFrom),
		"to":         req.To,
		"tokenTo":    req.TokenTo,
	})
	return txid, err
}

func (c *RPCClient) AddLiquidity(ctx context.Context, owner string, a, b model.TokenAmount) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "addpoolliquidity", map[string][]string{owner: {a.String(), b.String()}}, owner)
	return txid, err
}

func (c *RPCClient) SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error) {
	var txid string
	err := c.call(ctx, &txid, "sendtoaddress", address, number(amount), "", "", false)
	return txid, err
}

// CheckPassphrase unlocks and immediately relocks the wallet to verify the passphrase.
func CheckPassphrase(ctx context.Context, gw Gateway, secret string) error {
	if err := gw.UnlockSigning(ctx, secret, 5*time.Minute); err != nil {
		return clierr.Wrap(clierr.CodeAuth, "wallet passphrase rejected", err)
	}
	if err := gw.LockSigning(ctx); err != nil {
		return fmt.Errorf("relock wallet: %w", err)
	}
	return nil
}
