package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/txledger/internal/transaction/domain"
	"github.com/smallbiznis/txledger/internal/transaction/state"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalInt(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.Atoi(trimmed)
}

// parseOptionalTime reads an instant or a whole day. A day used as an upper
// bound becomes the following midnight, matching the exclusive filters.
func parseOptionalTime(value string, upper bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		if upper {
			parsed = parsed.AddDate(0, 0, 1)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// queryList accepts both repeated keys and comma separated values.
func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseSearchParams(c *gin.Context) (domain.SearchParams, error) {
	p := domain.SearchParams{
		AccountIDs:           queryList(c, "account_id"),
		Reference:            strings.TrimSpace(c.Query("reference")),
		CardholderName:       strings.TrimSpace(c.Query("cardholder_name")),
		Email:                strings.TrimSpace(c.Query("email")),
		CardBrands:           queryList(c, "card_brand"),
		FirstDigits:          strings.TrimSpace(c.Query("first_digits_card_number")),
		LastDigits:           strings.TrimSpace(c.Query("last_digits_card_number")),
		GatewayTransactionID: strings.TrimSpace(c.Query("gateway_transaction_id")),
		GatewayPayoutID:      strings.TrimSpace(c.Query("gateway_payout_id")),
		States:               queryList(c, "state"),
		MetadataKey:          strings.TrimSpace(c.Query("metadata_key")),
		MetadataValue:        strings.TrimSpace(c.Query("metadata_value")),
		ParentExternalID:     strings.TrimSpace(c.Query("parent_external_id")),
	}

	var err error
	dates := []struct {
		key   string
		upper bool
		dst   **time.Time
	}{
		{"from_date", false, &p.FromDate},
		{"to_date", true, &p.ToDate},
		{"from_settled_date", false, &p.FromSettledDate},
		{"to_settled_date", true, &p.ToSettledDate},
	}
	for _, d := range dates {
		if *d.dst, err = parseOptionalTime(c.Query(d.key), d.upper); err != nil {
			return p, newValidationError(d.key, "invalid_"+d.key, "must be RFC3339 or YYYY-MM-DD")
		}
	}

	exact, err := parseOptionalBool(c.Query("exact_reference_match"))
	if err != nil {
		return p, newValidationError("exact_reference_match", "invalid_exact_reference_match", "must be a boolean")
	}
	p.ExactReferenceMatch = exact != nil && *exact

	if p.Moto, err = parseOptionalBool(c.Query("moto")); err != nil {
		return p, newValidationError("moto", "invalid_moto", "must be a boolean")
	}

	for _, raw := range queryList(c, "transaction_type") {
		kind, err := state.ParseKind(raw)
		if err != nil {
			return p, domain.ErrInvalidType
		}
		p.Types = append(p.Types, kind)
	}

	if raw := strings.TrimSpace(c.Query("status_version")); raw != "" {
		v, err := state.ParseVersion(raw)
		if err != nil {
			return p, domain.ErrInvalidVersion
		}
		p.StatusVersion = v
	}

	return p, nil
}
