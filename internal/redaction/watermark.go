package redaction

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WatermarkName tracks the created_date of the newest transaction redacted.
const WatermarkName = "last_processed_created_date"

type Watermark struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	Value     time.Time `json:"value" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Watermark) TableName() string { return "watermarks" }

type WatermarkRepository interface {
	// Get returns false when the watermark was never written.
	Get(ctx context.Context, db *gorm.DB, name string) (Watermark, bool, error)
	// Advance moves the watermark forward; an older value is ignored.
	Advance(ctx context.Context, db *gorm.DB, name string, value, now time.Time) error
}

type watermarkRepo struct{}

func NewWatermarkRepository() WatermarkRepository {
	return &watermarkRepo{}
}

func (r *watermarkRepo) Get(ctx context.Context, db *gorm.DB, name string) (Watermark, bool, error) {
	var rows []Watermark
	err := db.WithContext(ctx).Raw(
		`SELECT name, value, updated_at FROM watermarks WHERE name = ? LIMIT 1`,
		name,
	).Scan(&rows).Error
	if err != nil {
		return Watermark{}, false, err
	}
	if len(rows) == 0 {
		return Watermark{}, false, nil
	}
	w := rows[0]
	w.Value = w.Value.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, true, nil
}

func (r *watermarkRepo) Advance(ctx context.Context, db *gorm.DB, name string, value, now time.Time) error {
	row := Watermark{Name: name, Value: value.UTC(), UpdatedAt: now.UTC()}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	return db.WithContext(ctx).Exec(
		`UPDATE watermarks SET value = ?, updated_at = ? WHERE name = ? AND value < ?`,
		row.Value, row.UpdatedAt, name, row.Value,
	).Error
}
