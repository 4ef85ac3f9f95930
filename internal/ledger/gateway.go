// Package ledger exposes the remote wallet node as a blocking capability interface.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"Compounder/internal/model"
)

// Scope selects whose token balances are read. An empty Owner reads the
// aggregate of every account of the wallet.
type Scope struct {
	Owner string
}

// Wallet is the aggregate scope.
var Wallet = Scope{}

// Account returns the scope of a single owner address.
func Account(owner string) Scope { return Scope{Owner: owner} }

// SwapRequest describes a pool swap.
type SwapRequest struct {
	From       string
	TokenFrom  string
	AmountFrom decimal.Decimal
	To         string
	TokenTo    string
}

// Gateway is the ledger surface the compounding engine depends on.
// Every call blocks until the node answered.
type Gateway interface {
	SpendableBalance(ctx context.Context) (decimal.Decimal, error)
	TokenBalances(ctx context.Context, scope Scope) (model.Balances, error)
	SubAccounts(ctx context.Context) ([]model.SubAccount, error)
	PoolPairs(ctx context.Context) ([]model.PoolPair, error)

	UnlockSigning(ctx context.Context, secret string, d time.Duration) error
	LockSigning(ctx context.Context) error

	AccountToSpendable(ctx context.Context, owner string, amount decimal.Decimal) (string, error)
	SpendableToAccount(ctx context.Context, owner string, amount decimal.Decimal) (string, error)
	AccountToAccount(ctx context.Context, from, to string, amount model.TokenAmount) (string, error)
	Swap(ctx context.Context, req SwapRequest) (string, error)
	AddLiquidity(ctx context.Context, owner string, a, b model.TokenAmount) (string, error)
	SendToAddress(ctx context.Context, address string, amount decimal.Decimal) (string, error)
}
