// Package projection turns an event digest into a transaction row.
package projection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	"github.com/smallbiznis/txledger/internal/transaction/digest"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"gorm.io/datatypes"
)

var ErrNotProjectable = errors.New("resource_not_projectable")

// Payload keys lifted into columns. Every other key stays in the details blob.
const (
	KeyGatewayAccountID      = "gateway_account_id"
	KeyAmount                = "amount"
	KeyFee                   = "fee"
	KeyNetAmount             = "net_amount"
	KeyTotalAmount           = "total_amount"
	KeyCorporateSurcharge    = "corporate_surcharge"
	KeyReference             = "reference"
	KeyDescription           = "description"
	KeyEmail                 = "email"
	KeyCardholderName        = "cardholder_name"
	KeyCardBrand             = "card_brand"
	KeyFirstDigitsCardNumber = "first_digits_card_number"
	KeyLastDigitsCardNumber  = "last_digits_card_number"
	KeyGatewayTransactionID  = "gateway_transaction_id"
	KeyGatewayPayoutID       = "gateway_payout_id"
	KeyMoto                  = "moto"
	KeyPaidOutDate           = "paid_out_date"
	KeySettledDate           = "settled_date"
	KeyExternalMetadata      = "external_metadata"
)

// Result is a candidate projection. CrossType is set when the state came
// from another kind's table.
type Result struct {
	Transaction domain.Transaction
	External    state.External
	CrossType   bool
}

// Build maps a digest to a candidate row. ID and UpdatedAt are left for the
// caller to assign.
func Build(d digest.Digest, v state.Version) (Result, error) {
	if !d.ResourceType.Projectable() {
		return Result{}, fmt.Errorf("%w: %s", ErrNotProjectable, d.ResourceType)
	}
	kind := state.Kind(d.ResourceType)

	resolved, err := state.DeriveFor(kind, d.MostRecentSalientEventType, v)
	if err != nil {
		return Result{}, fmt.Errorf("derive state of %s: %w", d.ResourceExternalID, err)
	}

	p := d.EventPayload
	details, err := json.Marshal(map[string]any(p.Without(KeyExternalMetadata)))
	if err != nil {
		return Result{}, fmt.Errorf("encode details of %s: %w", d.ResourceExternalID, err)
	}

	t := domain.Transaction{
		ExternalID:            d.ResourceExternalID,
		GatewayAccountID:      str(p, KeyGatewayAccountID),
		ParentExternalID:      d.ParentResourceExternalID,
		ServiceID:             d.ServiceID,
		Live:                  d.Live,
		Type:                  kind,
		State:                 resolved.State.Name,
		EventCount:            d.EventCount,
		CreatedDate:           eventdomain.NormalizeTime(d.EventCreatedDate),
		Amount:                int64Ptr(p, KeyAmount),
		Fee:                   int64Ptr(p, KeyFee),
		NetAmount:             int64Ptr(p, KeyNetAmount),
		TotalAmount:           int64Ptr(p, KeyTotalAmount),
		CorporateSurcharge:    int64Ptr(p, KeyCorporateSurcharge),
		Reference:             str(p, KeyReference),
		Description:           str(p, KeyDescription),
		Email:                 str(p, KeyEmail),
		CardholderName:        str(p, KeyCardholderName),
		CardBrand:             str(p, KeyCardBrand),
		FirstDigitsCardNumber: str(p, KeyFirstDigitsCardNumber),
		LastDigitsCardNumber:  str(p, KeyLastDigitsCardNumber),
		GatewayTransactionID:  str(p, KeyGatewayTransactionID),
		GatewayPayoutID:       str(p, KeyGatewayPayoutID),
		TransactionDetails:    datatypes.JSON(details),
	}
	if moto, ok := p.Bool(KeyMoto); ok {
		t.Moto = moto
	}
	if settled, ok := settledDate(kind, p); ok {
		t.SettledDate = &settled
	}
	if meta, ok := p.Object(KeyExternalMetadata); ok && len(meta) > 0 {
		t.ExternalMetadata = datatypes.JSONMap(meta.Clone())
	}
	if t.TotalAmount == nil && t.Amount != nil && t.CorporateSurcharge != nil {
		total := *t.Amount + *t.CorporateSurcharge
		t.TotalAmount = &total
	}
	if t.NetAmount == nil && t.Fee != nil {
		if base := firstNonNil(t.TotalAmount, t.Amount); base != nil {
			net := *base - *t.Fee
			t.NetAmount = &net
		}
	}
	t.ContentHash = t.ComputeContentHash()

	return Result{
		Transaction: t,
		External:    resolved.External,
		CrossType:   resolved.CrossType,
	}, nil
}

func settledDate(kind state.Kind, p eventdomain.Payload) (time.Time, bool) {
	if kind == state.KindPayout {
		if t, ok := p.Time(KeyPaidOutDate); ok {
			return t, true
		}
	}
	return p.Time(KeySettledDate)
}

func str(p eventdomain.Payload, key string) string {
	s, _ := p.String(key)
	return s
}

func int64Ptr(p eventdomain.Payload, key string) *int64 {
	n, ok := p.Int64(key)
	if !ok {
		return nil
	}
	return &n
}

func firstNonNil(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
