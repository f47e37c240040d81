package models

import "time"

const (
	// TagKindCurated tags are assigned outside the pipeline and never touched by it
	TagKindCurated = "curated"
	// TagKindDerived tags are owned by the tag engine
	TagKindDerived = "derived"
)

// Tag is a named category an instrument can belong to
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Label     string    `json:"label"`
	Kind      string    `gorm:"size:16;not null;index" json:"kind"`
	Category  string    `gorm:"size:32" json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// InstrumentTag associates an instrument with a tag
type InstrumentTag struct {
	InstrumentID uint      `gorm:"primaryKey" json:"instrument_id"`
	TagID        uint      `gorm:"primaryKey;index" json:"tag_id"`
	CreatedAt    time.Time `json:"created_at"`
}
