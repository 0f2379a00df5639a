package indexer

import (
	"encoding/json"
	"strings"
	"time"
)

// EventRecord is one published ledger event. Height and Seq locate it within
// the committed chain; replaying a block after a restart overwrites the rows
// at the same positions.
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Height     uint64    `gorm:"not null;uniqueIndex:idx_event_position,priority:1" json:"height"`
	Seq        uint64    `gorm:"not null;uniqueIndex:idx_event_position,priority:2" json:"seq"`
	Module     string    `gorm:"size:32;index" json:"module"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"-"`
	CreatedAt  time.Time `json:"indexedAt"`
}

// TableName pins the table name independent of the struct name.
func (EventRecord) TableName() string { return "datalayr_events" }

// Attrs decodes the stored attribute map.
func (r EventRecord) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(r.Attributes) == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}
