// Package model defines the core domain types shared across the copy-trading
// engine.
//
// Monetary and sizing fields use float64, not shopspring/decimal: venue prices
// live in [0, 1] and sizes are bounded, and every comparison against these
// fields is either a relative tolerance or an exact equality against zero
// (never an exact equality between two computed sums). shopspring/decimal is
// reserved for the on-chain settlement boundary, where collateral amounts are
// genuinely fixed-point integers — see internal/settlement.
package model

import "time"

// Mode selects whether a task trades against a simulated ledger or a real
// on-chain account.
type Mode string

const (
	ModeMock Mode = "mock"
	ModeLive Mode = "live"
)

// Status is the task's scheduling state.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// LiveConfig holds the fields that only apply to a Live-mode task. Keeping
// these on a pointer-typed sub-struct (rather than flattening nullable fields
// onto Task) keeps the Live-only fields together. The type does not enforce
// the pairing with Mode: the admin API sets Live only for Live-mode tasks,
// and the Postgres scan sets it only for Live rows that carry both fields.
type LiveConfig struct {
	// OperatorWallet is the signer address controlling funds.
	OperatorWallet string
	// PrivateKey signs orders and redemptions. Never logged, never
	// serialized back out through the command API.
	PrivateKey string
}

// Task is the unit of copy-trading work: a standing instruction to mirror one
// target account's BUY/SELL/REDEEM activity into a Mock or Live account.
type Task struct {
	ID             string
	Mode           Mode
	TargetAddress  string
	ProfileURL     string
	Live           *LiveConfig // nil unless Mode == ModeLive
	FixedAmount    float64     // per-BUY notional, quote units
	InitialFinance float64     // snapshot at creation
	CurrentBalance float64     // running cash balance
	Status         Status
	CreatedAt      time.Time
}

// Side is the kind of action an Activity represents.
type Side string

const (
	SideBuy    Side = "BUY"
	SideSell   Side = "SELL"
	SideRedeem Side = "REDEEM"
)

// ExecState is where an Activity sits in the state machine described in
// SPEC_FULL.md §4.7.e. Only New is eligible for future handling.
type ExecState string

const (
	ExecNew        ExecState = "new"
	ExecClaimed    ExecState = "claimed"
	ExecDoneOK     ExecState = "done-ok"
	ExecDoneSkip   ExecState = "done-skipped"
	ExecDoneExhaust ExecState = "done-exhausted"
)

// DuplicateSentinel marks an execAttempts value as "pre-closed, never
// executed" — the duplicate-BUY dedup rule in SPEC_FULL.md §4.4 rule 3.
const DuplicateSentinel = -1

// Activity is a single observed event produced by the target trader,
// scoped to the task that is mirroring it.
type Activity struct {
	TxHash       string // unique within (TxHash, TaskID)
	TaskID       string
	Timestamp    time.Time
	ConditionID  string
	Asset        string
	Side         Side
	Size         float64
	Notional     float64
	Price        float64
	OutcomeIndex int

	Title        string
	Slug         string
	OutcomeLabel string

	State        ExecState
	ExecAttempts int

	// MyBoughtSize is the actual token quantity this engine acquired for a
	// BUY activity; consulted by later SELL sizing (Live mode).
	MyBoughtSize float64
}

// Position is this engine's own holding in one market, for one task. Mock
// positions are authoritative here; Live positions are a read-through
// snapshot from the venue (see internal/venue).
type Position struct {
	TaskID      string
	Asset       string
	ConditionID string
	OutcomeIndex int // carried from the opening BUY, needed to redeem after a forced close

	Size         float64
	AvgPrice     float64
	TotalBought  float64 // running cost basis
	CurrentValue float64
	RealizedPnl  float64
	CurPrice     float64

	Title        string
	Slug         string
	OutcomeLabel string
}

// TradeRecord is an append-only ledger row written on every executed fill.
type TradeRecord struct {
	ID          string
	TaskID      string
	TxHash      string // source activity's txHash, for audit
	ConditionID string
	Asset       string
	Side        Side
	Size        float64
	Price       float64
	QuoteAmount float64
	RealizedPnl float64
	Mode        Mode
	Timestamp   time.Time
}

// TargetPosition is the target trader's holding in one market, as reported by
// the venue. Used for sell-ratio reconstruction and reconciliation.
type TargetPosition struct {
	ConditionID string
	Asset       string
	Size        float64
}
