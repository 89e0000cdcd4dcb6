package projection

import (
	"encoding/json"
	"testing"
	"time"

	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	"github.com/smallbiznis/txledger/internal/transaction/digest"
	"github.com/smallbiznis/txledger/internal/transaction/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2024, 2, 10, 9, 15, 0, 0, time.UTC)

func paymentDigest(salient string, payload eventdomain.Payload) digest.Digest {
	return digest.Digest{
		MostRecentEventTimestamp:   created.Add(time.Minute),
		MostRecentEventType:        salient,
		MostRecentSalientEventType: salient,
		ResourceType:               eventdomain.ResourceTypePayment,
		ResourceExternalID:         "pay_1",
		ServiceID:                  "svc_1",
		Live:                       true,
		EventCount:                 3,
		EventCreatedDate:           created,
		EventPayload:               payload,
	}
}

func TestBuildPaymentExtractsColumns(t *testing.T) {
	payload, err := eventdomain.DecodePayload([]byte(`{
		"gateway_account_id": "42",
		"amount": 1000,
		"corporate_surcharge": 250,
		"fee": 50,
		"reference": "REF-1",
		"description": "Council tax",
		"email": "jo@example.com",
		"cardholder_name": "Jo Bloggs",
		"card_brand": "visa",
		"first_digits_card_number": "424242",
		"last_digits_card_number": "4242",
		"gateway_transaction_id": "gw_1",
		"moto": true,
		"language": "en",
		"external_metadata": {"ledger_code": "123"}
	}`))
	require.NoError(t, err)

	res, err := Build(paymentDigest("CAPTURE_CONFIRMED", payload), state.V2)
	require.NoError(t, err)
	assert.False(t, res.CrossType)
	assert.Equal(t, "success", res.External.Status)

	tx := res.Transaction
	assert.Equal(t, "pay_1", tx.ExternalID)
	assert.Equal(t, "42", tx.GatewayAccountID)
	assert.Equal(t, state.KindPayment, tx.Type)
	assert.Equal(t, "SUCCESS", tx.State)
	assert.Equal(t, 3, tx.EventCount)
	assert.Equal(t, created, tx.CreatedDate)
	require.NotNil(t, tx.Amount)
	assert.Equal(t, int64(1000), *tx.Amount)
	require.NotNil(t, tx.TotalAmount)
	assert.Equal(t, int64(1250), *tx.TotalAmount)
	require.NotNil(t, tx.NetAmount)
	assert.Equal(t, int64(1200), *tx.NetAmount)
	assert.Equal(t, "Jo Bloggs", tx.CardholderName)
	assert.Equal(t, "4242", tx.LastDigitsCardNumber)
	assert.True(t, tx.Moto)
	assert.True(t, tx.Live)
	assert.Equal(t, "123", tx.ExternalMetadata["ledger_code"])
	assert.NotEmpty(t, tx.ContentHash)

	var details map[string]any
	require.NoError(t, json.Unmarshal(tx.TransactionDetails, &details))
	assert.Equal(t, "en", details["language"])
	assert.NotContains(t, details, "external_metadata")
}

func TestBuildIsDeterministic(t *testing.T) {
	payload := eventdomain.Payload{"amount": 10, "reference": "r"}
	a, err := Build(paymentDigest("PAYMENT_CREATED", payload), state.V1)
	require.NoError(t, err)
	b, err := Build(paymentDigest("PAYMENT_CREATED", payload.Clone()), state.V1)
	require.NoError(t, err)
	assert.Equal(t, a.Transaction.ContentHash, b.Transaction.ContentHash)

	payload["reference"] = "changed"
	c, err := Build(paymentDigest("PAYMENT_CREATED", payload), state.V1)
	require.NoError(t, err)
	assert.NotEqual(t, a.Transaction.ContentHash, c.Transaction.ContentHash)
}

func TestBuildRefundUsesRefundTable(t *testing.T) {
	d := paymentDigest("REFUND_SUBMITTED", eventdomain.Payload{"amount": 500, "refunded_by": "user_1"})
	d.ResourceType = eventdomain.ResourceTypeRefund
	d.ResourceExternalID = "ref_1"
	d.ParentResourceExternalID = "pay_1"

	res, err := Build(d, state.V2)
	require.NoError(t, err)
	assert.False(t, res.CrossType)
	assert.Equal(t, state.KindRefund, res.Transaction.Type)
	assert.Equal(t, "SUBMITTED", res.Transaction.State)
	assert.Equal(t, "pay_1", res.Transaction.ParentExternalID)
}

func TestBuildFlagsCrossTypeState(t *testing.T) {
	d := paymentDigest("CAPTURE_CONFIRMED", eventdomain.Payload{})
	d.ResourceType = eventdomain.ResourceTypeDispute

	res, err := Build(d, state.V2)
	require.NoError(t, err)
	assert.True(t, res.CrossType)
	assert.Equal(t, state.KindDispute, res.Transaction.Type)
	assert.Equal(t, "SUCCESS", res.Transaction.State)
}

func TestBuildPayoutSettledDate(t *testing.T) {
	d := paymentDigest("PAYOUT_PAID", eventdomain.Payload{
		"paid_out_date":     "2024-02-12T00:00:00.000000Z",
		"gateway_payout_id": "po_1",
	})
	d.ResourceType = eventdomain.ResourceTypePayout

	res, err := Build(d, state.V2)
	require.NoError(t, err)
	require.NotNil(t, res.Transaction.SettledDate)
	assert.Equal(t, time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC), *res.Transaction.SettledDate)
	assert.Equal(t, "po_1", res.Transaction.GatewayPayoutID)
	assert.Equal(t, "paidout", res.External.Status)
}

func TestBuildRejectsUnprojectableResources(t *testing.T) {
	d := paymentDigest("PAYMENT_CREATED", eventdomain.Payload{})
	d.ResourceType = eventdomain.ResourceTypeAgreement
	_, err := Build(d, state.V2)
	assert.ErrorIs(t, err, ErrNotProjectable)
}
