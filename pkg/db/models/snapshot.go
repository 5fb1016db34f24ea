package models

import (
	"encoding/json"
	"time"
)

// CartSnapshot caches the active cart so an in-progress sale survives a
// terminal restart. One well-known row per terminal.
type CartSnapshot struct {
	Key       string          `gorm:"column:key;primaryKey"`
	Data      json.RawMessage `gorm:"column:data;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the cart snapshot table.
func (CartSnapshot) TableName() string {
	return "cart_snapshots"
}

// CatalogSnapshot caches the last product catalog fetched from the backend
// so browsing keeps working offline.
type CatalogSnapshot struct {
	Key       string          `gorm:"column:key;primaryKey"`
	Data      json.RawMessage `gorm:"column:data;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the catalog snapshot table.
func (CatalogSnapshot) TableName() string {
	return "catalog_snapshots"
}
