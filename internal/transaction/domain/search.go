package domain

import (
	"time"

	"github.com/smallbiznis/txledger/internal/transaction/state"
)

// SearchParams is the filter set shared by offset and keyset search. Zero
// values mean no filter.
type SearchParams struct {
	AccountIDs           []string
	FromDate             *time.Time
	ToDate               *time.Time
	FromSettledDate      *time.Time
	ToSettledDate        *time.Time
	Reference            string
	ExactReferenceMatch  bool
	CardholderName       string
	Email                string
	CardBrands           []string
	FirstDigits          string
	LastDigits           string
	GatewayTransactionID string
	GatewayPayoutID      string
	Types                []state.Kind
	// States holds external status strings, resolved per kind with
	// StatusVersion.
	States           []string
	StatusVersion    state.Version
	MetadataKey      string
	MetadataValue    string
	Moto             *bool
	ParentExternalID string
}

// SearchResult is one offset page.
type SearchResult struct {
	Items []Transaction
	Page  int
	Size  int
	Total int64
	// Capped is set when Total stopped at the configured count limit.
	Capped bool
}

// CursorDirection selects which side of the cursor a keyset page reads.
type CursorDirection string

const (
	CursorNext     CursorDirection = "next"
	CursorPrevious CursorDirection = "previous"
)

// CursorPage is one keyset page in created_date DESC, id DESC order.
type CursorPage struct {
	Items          []Transaction
	NextCursor     string
	PreviousCursor string
	HasMore        bool
}
