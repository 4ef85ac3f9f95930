package model

// ActionKind is the compounding action chosen for a cycle.
type ActionKind string

const (
	ActionNone                  ActionKind = "NONE"
	ActionTransfer              ActionKind = "TRANSFER"
	ActionSwap                  ActionKind = "SWAP"
	ActionSwapViaReference      ActionKind = "SWAP_VIA_REFERENCE"
	ActionLiquidity             ActionKind = "LIQUIDITY"
	ActionLiquidityViaReference ActionKind = "LIQUIDITY_VIA_REFERENCE"
	ActionInvalid               ActionKind = "INVALID"
)

// Decision is the classified form of a target entry.
type Decision struct {
	Kind   ActionKind
	Target string // the raw target entry
	// Symbol is the destination token for swaps and the pool symbol for liquidity.
	Symbol string
	// Via is the intermediate token for two-hop actions, empty otherwise.
	Via string
}
