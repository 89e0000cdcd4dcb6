package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

func decodeDetails(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func detailString(raw datatypes.JSON, key string) string {
	s, _ := decodeDetails(raw)[key].(string)
	return s
}

func detailTime(raw datatypes.JSON, key string) (time.Time, bool) {
	s := detailString(raw, key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
