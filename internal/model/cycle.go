package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Step names used in checkpoints.
const (
	StepConsolidate  = "consolidate"
	StepToAccount    = "utxos_to_account"
	StepToSpendable  = "account_to_utxos"
	StepSwap         = "swap"
	StepAddLiquidity = "add_liquidity"
	StepSend         = "send"
)

// CheckpointStatus is the progress of one ledger-mutating sub-step.
type CheckpointStatus string

const (
	CheckpointSubmitted CheckpointStatus = "SUBMITTED"
	CheckpointConfirmed CheckpointStatus = "CONFIRMED"
	CheckpointFailed    CheckpointStatus = "FAILED"
)

// Checkpoint records a sub-step of a compounding action so an operator can
// tell where a partially completed sequence stopped.
type Checkpoint struct {
	CycleID string
	Seq     int
	Step    string
	Symbol  string
	Amount  decimal.Decimal
	TxID    string
	Status  CheckpointStatus
	Note    string
	At      time.Time
}

// CycleReport summarizes one compounding cycle.
type CycleReport struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	Spendable    decimal.Decimal
	TokenBalance decimal.Decimal
	Threshold    decimal.Decimal
	Target       string
	Action       ActionKind
	Received     decimal.Decimal
	ReceivedSym  string
	NextTarget   string
	Consolidated int
	Error        string
}

// Total is the compoundable holding observed at the start of the cycle.
func (r *CycleReport) Total() decimal.Decimal {
	return r.Spendable.Add(r.TokenBalance)
}
