package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"gorm.io/datatypes"
)

// Transaction is the current-state projection of one resource.
type Transaction struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	ExternalID            string            `json:"external_id" gorm:"type:text;not null;uniqueIndex"`
	GatewayAccountID      string            `json:"gateway_account_id" gorm:"type:text"`
	ParentExternalID      string            `json:"parent_external_id,omitempty" gorm:"type:text"`
	ServiceID             string            `json:"service_id,omitempty" gorm:"type:text"`
	Live                  bool              `json:"live"`
	Type                  state.Kind        `json:"transaction_type" gorm:"type:text;not null"`
	State                 string            `json:"state" gorm:"type:text;not null"`
	EventCount            int               `json:"event_count" gorm:"not null"`
	CreatedDate           time.Time         `json:"created_date" gorm:"not null"`
	Amount                *int64            `json:"amount,omitempty"`
	Fee                   *int64            `json:"fee,omitempty"`
	NetAmount             *int64            `json:"net_amount,omitempty"`
	TotalAmount           *int64            `json:"total_amount,omitempty"`
	CorporateSurcharge    *int64            `json:"corporate_surcharge,omitempty"`
	Reference             string            `json:"reference,omitempty" gorm:"type:text"`
	Description           string            `json:"description,omitempty" gorm:"type:text"`
	Email                 string            `json:"email,omitempty" gorm:"type:text"`
	CardholderName        string            `json:"cardholder_name,omitempty" gorm:"type:text"`
	CardBrand             string            `json:"card_brand,omitempty" gorm:"type:text"`
	FirstDigitsCardNumber string            `json:"first_digits_card_number,omitempty" gorm:"type:text"`
	LastDigitsCardNumber  string            `json:"last_digits_card_number,omitempty" gorm:"type:text"`
	GatewayTransactionID  string            `json:"gateway_transaction_id,omitempty" gorm:"type:text"`
	GatewayPayoutID       string            `json:"gateway_payout_id,omitempty" gorm:"type:text"`
	Moto                  bool              `json:"moto"`
	SettledDate           *time.Time        `json:"settled_date,omitempty"`
	TransactionDetails    datatypes.JSON    `json:"transaction_details" gorm:"type:jsonb;not null"`
	ExternalMetadata      datatypes.JSONMap `json:"external_metadata,omitempty" gorm:"type:jsonb"`
	ContentHash           string            `json:"-" gorm:"type:text;not null"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

// ResolvedState looks up the stored state name in the transaction's table.
func (t Transaction) ResolvedState() (state.State, bool) {
	return state.Lookup(t.Type, t.State)
}

// Variant returns the kind-specific view of the transaction.
func (t *Transaction) Variant() Variant {
	switch t.Type {
	case state.KindPayment:
		return Payment{Transaction: t}
	case state.KindRefund:
		return Refund{Transaction: t}
	case state.KindDispute:
		return Dispute{Transaction: t}
	case state.KindPayout:
		return Payout{Transaction: t}
	default:
		panic("transaction: unknown kind " + string(t.Type))
	}
}

// Variant is implemented by Payment, Refund, Dispute and Payout only.
type Variant interface {
	Kind() state.Kind
	isVariant()
}

type Payment struct{ *Transaction }

func (Payment) Kind() state.Kind { return state.KindPayment }
func (Payment) isVariant()       {}

func (p Payment) CardDetails() CardDetails {
	return CardDetails{
		CardholderName:        p.CardholderName,
		CardBrand:             p.CardBrand,
		FirstDigitsCardNumber: p.FirstDigitsCardNumber,
		LastDigitsCardNumber:  p.LastDigitsCardNumber,
	}
}

type CardDetails struct {
	CardholderName        string `json:"cardholder_name,omitempty"`
	CardBrand             string `json:"card_brand,omitempty"`
	FirstDigitsCardNumber string `json:"first_digits_card_number,omitempty"`
	LastDigitsCardNumber  string `json:"last_digits_card_number,omitempty"`
}

type Refund struct{ *Transaction }

func (Refund) Kind() state.Kind { return state.KindRefund }
func (Refund) isVariant()       {}

// PaymentExternalID is the payment this refund belongs to.
func (r Refund) PaymentExternalID() string { return r.ParentExternalID }

// RefundedBy returns the user that issued the refund, when recorded.
func (r Refund) RefundedBy() string { return detailString(r.TransactionDetails, "refunded_by") }

type Dispute struct{ *Transaction }

func (Dispute) Kind() state.Kind { return state.KindDispute }
func (Dispute) isVariant()       {}

func (d Dispute) PaymentExternalID() string { return d.ParentExternalID }
func (d Dispute) Reason() string            { return detailString(d.TransactionDetails, "reason") }

// EvidenceDueDate is when a response to the dispute must be submitted.
func (d Dispute) EvidenceDueDate() (time.Time, bool) {
	return detailTime(d.TransactionDetails, "evidence_due_date")
}

type Payout struct{ *Transaction }

func (Payout) Kind() state.Kind { return state.KindPayout }
func (Payout) isVariant()       {}

// PaidOutDate is set once the payout reached the service's bank account.
func (p Payout) PaidOutDate() (time.Time, bool) {
	if p.SettledDate == nil {
		return time.Time{}, false
	}
	return *p.SettledDate, true
}

// ComputeContentHash hashes every projected column except the surrogate id
// and the write timestamp.
func (t Transaction) ComputeContentHash() string {
	t.ID = 0
	t.UpdatedAt = time.Time{}
	t.ContentHash = ""
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
