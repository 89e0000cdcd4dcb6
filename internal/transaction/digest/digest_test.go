package digest

import (
	"testing"
	"time"

	eventdomain "github.com/smallbiznis/txledger/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func paymentEvent(eventType string, offset time.Duration, payload eventdomain.Payload) eventdomain.Event {
	if payload == nil {
		payload = eventdomain.Payload{}
	}
	return eventdomain.Event{
		ResourceExternalID: "pay_123",
		ResourceType:       eventdomain.ResourceTypePayment,
		EventType:          eventType,
		EventDate:          base.Add(offset),
		Payload:            payload,
	}
}

func TestAggregateMergesPayloadLastWriteWins(t *testing.T) {
	e1 := paymentEvent("PAYMENT_CREATED", time.Second, eventdomain.Payload{"a": 1})
	e2 := paymentEvent("PAYMENT_DETAILS_ENTERED", 2*time.Second, eventdomain.Payload{"a": 2, "b": 3})

	for _, events := range [][]eventdomain.Event{{e1, e2}, {e2, e1}} {
		d, err := Aggregate(events)
		require.NoError(t, err)
		assert.Equal(t, eventdomain.Payload{"a": 2, "b": 3}, d.EventPayload)
		assert.Equal(t, 2, d.EventCount)
		assert.Equal(t, "PAYMENT_DETAILS_ENTERED", d.MostRecentEventType)
		assert.Equal(t, base.Add(2*time.Second), d.MostRecentEventTimestamp)
		assert.Equal(t, base.Add(time.Second), d.EventCreatedDate)
	}
}

func TestAggregateOutOfOrderCapture(t *testing.T) {
	created := paymentEvent("PAYMENT_CREATED", time.Second, nil)
	captured := paymentEvent("CAPTURE_CONFIRMED", 3*time.Second, nil)

	d, err := Aggregate([]eventdomain.Event{captured, created})
	require.NoError(t, err)
	assert.Equal(t, "CAPTURE_CONFIRMED", d.MostRecentSalientEventType)
	assert.Equal(t, 2, d.EventCount)
}

func TestAggregateSalientIgnoresLaterNonSalient(t *testing.T) {
	events := []eventdomain.Event{
		paymentEvent("PAYMENT_CREATED", time.Second, nil),
		paymentEvent("AUTHORISATION_SUCCEEDED", 2*time.Second, nil),
		paymentEvent("PAYMENT_NOTIFICATION_CREATED", 5*time.Second, nil),
	}
	d, err := Aggregate(events)
	require.NoError(t, err)
	assert.Equal(t, "PAYMENT_NOTIFICATION_CREATED", d.MostRecentEventType)
	assert.Equal(t, "AUTHORISATION_SUCCEEDED", d.MostRecentSalientEventType)
}

func TestAggregateTieBreakKeepsInputOrder(t *testing.T) {
	a := paymentEvent("AUTHORISATION_REJECTED", time.Second, eventdomain.Payload{"k": "first"})
	b := paymentEvent("CAPTURE_CONFIRMED", time.Second, eventdomain.Payload{"k": "second"})

	d, err := Aggregate([]eventdomain.Event{a, b})
	require.NoError(t, err)
	assert.Equal(t, "CAPTURE_CONFIRMED", d.MostRecentSalientEventType)
	assert.Equal(t, "second", d.EventPayload["k"])

	d, err = Aggregate([]eventdomain.Event{b, a})
	require.NoError(t, err)
	assert.Equal(t, "AUTHORISATION_REJECTED", d.MostRecentSalientEventType)
	assert.Equal(t, "first", d.EventPayload["k"])
}

func TestAggregateFoldsDuplicates(t *testing.T) {
	e := paymentEvent("PAYMENT_CREATED", time.Second, eventdomain.Payload{"amount": 100})
	d, err := Aggregate([]eventdomain.Event{e, e, e})
	require.NoError(t, err)
	assert.Equal(t, 1, d.EventCount)
}

func TestAggregateNoSalientEvent(t *testing.T) {
	_, err := Aggregate([]eventdomain.Event{paymentEvent("PAYMENT_NOTIFICATION_CREATED", 0, nil)})
	assert.ErrorIs(t, err, ErrNoSalientEvent)
}

func TestAggregateCarriesResourceMetadata(t *testing.T) {
	refund := eventdomain.Event{
		ResourceExternalID:       "ref_1",
		ResourceType:             eventdomain.ResourceTypeRefund,
		ParentResourceExternalID: "pay_123",
		EventType:                "REFUND_CREATED_BY_USER",
		EventDate:                base,
		ServiceID:                "svc_1",
		Live:                     true,
		Payload:                  eventdomain.Payload{},
	}
	submitted := refund
	submitted.EventType = "REFUND_SUBMITTED"
	submitted.EventDate = base.Add(time.Minute)
	submitted.ParentResourceExternalID = ""

	d, err := Aggregate([]eventdomain.Event{submitted, refund})
	require.NoError(t, err)
	assert.Equal(t, eventdomain.ResourceTypeRefund, d.ResourceType)
	assert.Equal(t, "pay_123", d.ParentResourceExternalID)
	assert.Equal(t, "svc_1", d.ServiceID)
	assert.True(t, d.Live)
}

func TestAggregatePanicsOnProgrammingErrors(t *testing.T) {
	assert.Panics(t, func() { _, _ = Aggregate(nil) })

	other := paymentEvent("PAYMENT_CREATED", 0, nil)
	other.ResourceExternalID = "pay_other"
	assert.Panics(t, func() {
		_, _ = Aggregate([]eventdomain.Event{paymentEvent("PAYMENT_CREATED", 0, nil), other})
	})
}
