// Package billing holds billing statements, payment allocation and settlement evaluation.
//
// Everything here is pure: functions take values and return new values. Persistence and
// locking belong to the settlement package.
package billing

import (
	"fmt"
	"strings"
	"time"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/money"
)

// PaymentStatus tracks how much of a statement has been paid.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	// PaymentPartial appears in legacy records. Evaluate never produces it.
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Outstanding reports whether the statement still counts towards amounts due.
func (s PaymentStatus) Outstanding() bool {
	return s == PaymentPending || s == PaymentPartial
}

// SettlementStatus tracks whether recorded payments are confirmed by completed transactions.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
)

// OtherCharge is an extra collection line that counts towards the total due only.
type OtherCharge struct {
	Name   string      `json:"name"`
	Amount money.Money `json:"amount"`
}

// Statement is the billing record for one property and one coverage period.
type Statement struct {
	ID         string `json:"id"`
	PropertyID string `json:"property_id"`
	OwnerID    string `json:"owner_id"`
	IssuedBy   string `json:"issued_by"`
	IssuerRole string `json:"issuer_role"`

	Period Period `json:"period"`

	Charges      Breakdown     `json:"charges"`
	OtherCharges []OtherCharge `json:"other_charges,omitempty"`
	TotalDue     money.Money   `json:"total_amount_due"`

	Paid      Breakdown   `json:"paid_breakdown"`
	TotalPaid money.Money `json:"total_paid"`

	PaymentStatus    PaymentStatus    `json:"payment_status"`
	SettlementStatus SettlementStatus `json:"settlement_status"`

	WaterReading     string `json:"water_reading,omitempty"`
	WaterConsumption string `json:"water_consumption,omitempty"`

	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Archived reports whether the statement has been retired from active billing.
func (s Statement) Archived() bool { return s.ArchivedAt != nil }

// Remaining is charge minus paid per category. Values may be negative when a
// category was paid past its charge.
func (s Statement) Remaining() Breakdown { return s.Charges.Sub(s.Paid) }

// NewStatementParams describes a statement to issue.
type NewStatementParams struct {
	PropertyID       string
	OwnerID          string
	IssuedBy         string
	IssuerRole       string
	Period           string
	Charges          Breakdown
	OtherCharges     []OtherCharge
	WaterReading     string
	WaterConsumption string
}

// NewStatement validates params and returns a fresh statement with nothing paid.
// The caller assigns ID.
func NewStatement(p NewStatementParams, now time.Time) (Statement, error) {
	p.PropertyID = strings.TrimSpace(p.PropertyID)
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	if p.PropertyID == "" {
		return Statement{}, fmt.Errorf("%w: property_id is required", apperr.ErrValidation)
	}
	if p.OwnerID == "" {
		return Statement{}, fmt.Errorf("%w: owner_id is required", apperr.ErrValidation)
	}
	period, err := ParsePeriod(p.Period)
	if err != nil {
		return Statement{}, err
	}
	if err := p.Charges.validateNonNegative("charges"); err != nil {
		return Statement{}, err
	}
	total := p.Charges.Total()
	others := make([]OtherCharge, 0, len(p.OtherCharges))
	for _, oc := range p.OtherCharges {
		name := strings.TrimSpace(oc.Name)
		if name == "" {
			return Statement{}, fmt.Errorf("%w: other charge name is required", apperr.ErrValidation)
		}
		if oc.Amount.IsNegative() {
			return Statement{}, fmt.Errorf("%w: other charge %q must be >= 0", apperr.ErrValidation, name)
		}
		others = append(others, OtherCharge{Name: name, Amount: oc.Amount.Round()})
		total = total.Add(oc.Amount)
	}

	now = now.UTC()
	return Statement{
		PropertyID:       p.PropertyID,
		OwnerID:          p.OwnerID,
		IssuedBy:         strings.TrimSpace(p.IssuedBy),
		IssuerRole:       strings.TrimSpace(p.IssuerRole),
		Period:           period,
		Charges:          p.Charges.Round(),
		OtherCharges:     others,
		TotalDue:         total.Round(),
		PaymentStatus:    PaymentPending,
		SettlementStatus: SettlementPending,
		WaterReading:     strings.TrimSpace(p.WaterReading),
		WaterConsumption: strings.TrimSpace(p.WaterConsumption),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
