package models

import "time"

// MetadataEntry is a small string key/value row (terminal id, cached
// preference blobs).
type MetadataEntry struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the metadata table.
func (MetadataEntry) TableName() string {
	return "metadata"
}
