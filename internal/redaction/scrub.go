package redaction

var piiKeys = map[string]struct{}{
	"email":                    {},
	"cardholder_name":          {},
	"first_digits_card_number": {},
	"last_digits_card_number":  {},
	"billing_address":          {},
	"address_line1":            {},
	"address_line2":            {},
	"address_postcode":         {},
	"address_city":             {},
	"address_county":           {},
	"address_country":          {},
}

// scrub removes personal data keys at any depth and reports whether anything
// was removed.
func scrub(m map[string]any) bool {
	changed := false
	for k, v := range m {
		if _, ok := piiKeys[k]; ok {
			delete(m, k)
			changed = true
			continue
		}
		switch nested := v.(type) {
		case map[string]any:
			if scrub(nested) {
				changed = true
			}
		case []any:
			for _, item := range nested {
				if obj, ok := item.(map[string]any); ok && scrub(obj) {
					changed = true
				}
			}
		}
	}
	return changed
}
