package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType classifies a deposit ledger entry.
type MovementType string

const (
	MovementCollect   MovementType = "COLLECT"
	MovementRefund    MovementType = "REFUND"
	MovementDeduction MovementType = "DEDUCTION"
)

// Outflow reports whether the movement reduces the held amount.
func (t MovementType) Outflow() bool {
	return t == MovementRefund || t == MovementDeduction
}

// DepositMovement is an immutable deposit ledger entry.
type DepositMovement struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	DepositID string          `json:"deposit_id"`
	Type      MovementType    `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    *string         `json:"reason,omitempty"`
	ActorID   string          `json:"actor_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// SecurityDeposit tracks the deposit held for a lease, separate from rent.
type SecurityDeposit struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	LeaseID         string            `json:"lease_id"`
	Currency        string            `json:"currency"`
	TargetAmount    decimal.Decimal   `json:"target_amount"`
	CollectedAmount decimal.Decimal   `json:"collected_amount"`
	HeldAmount      decimal.Decimal   `json:"held_amount"`
	CollectedAt     *time.Time        `json:"collected_at,omitempty"`
	Movements       []DepositMovement `json:"movements"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HeldFromLedger derives the held amount: collected minus every outflow.
func HeldFromLedger(collected decimal.Decimal, movements []DepositMovement) decimal.Decimal {
	held := collected
	for _, m := range movements {
		if m.Type.Outflow() {
			held = held.Sub(m.Amount)
		}
	}
	return held
}
