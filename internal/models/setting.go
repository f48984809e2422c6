package models

import "gorm.io/gorm"

// Setting is a JSON-encoded value persisted under a unique key.
type Setting struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex;not null"`
	Value string `gorm:"type:text;not null"`
}
