package schema

import "time"

// KeyValueStore holds small pieces of operational state keyed by name,
// currently the chain emitter's block cursors.
type KeyValueStore struct {
	Key       string    `gorm:"primaryKey;type:text"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for the KeyValueStore model
func (KeyValueStore) TableName() string {
	return "key_value_store"
}
