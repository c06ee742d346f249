package models

import "time"

// KVEntry stores one durable client key when the mysql storage backend is selected.
type KVEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"size:191;uniqueIndex;not null" json:"key"`
	Value     []byte    `gorm:"type:mediumblob" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name stable regardless of naming strategy.
func (KVEntry) TableName() string {
	return "kv_entries"
}
