package domain

import "errors"

var (
	ErrNotFound          = errors.New("transaction_not_found")
	ErrIdentityConflict  = errors.New("transaction_identity_conflict")
	ErrSearchTimeout     = errors.New("search_timeout")
	ErrInvalidPage       = errors.New("invalid_page")
	ErrInvalidPageSize   = errors.New("invalid_page_size")
	ErrInvalidCursor     = errors.New("invalid_cursor")
	ErrInvalidDateRange  = errors.New("invalid_date_range")
	ErrInvalidState      = errors.New("invalid_state")
	ErrInvalidType       = errors.New("invalid_transaction_type")
	ErrInvalidCardDigits = errors.New("invalid_card_digits")
	ErrInvalidMetadata   = errors.New("invalid_metadata_filter")
	ErrInvalidVersion    = errors.New("invalid_status_version")
	ErrInvalidExternalID = errors.New("invalid_external_id")
)
