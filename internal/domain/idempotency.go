package domain

import "time"

// Idempotency records the turn produced by a previously processed
// POST /groups/:id/messages, keyed by (user_id, group_id, key). A replay
// with the same key returns the original user entry and session instead
// of dispatching the providers again.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_group_key,priority:1"`
	GroupID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_group_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_group_key,priority:3"`
	EntryID   string    `gorm:"type:TEXT NOT NULL"` // the user entry of the turn
	SessionID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"` // HTTP status of the first response
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }

// Stamp sets CreatedAt to now (UTC) and ExpiresAt ttl later.
func (i *Idempotency) Stamp(now time.Time, ttl time.Duration) {
	i.CreatedAt = now.UTC()
	i.ExpiresAt = i.CreatedAt.Add(ttl)
}

// Live reports whether the record still answers replays at now.
func (i Idempotency) Live(now time.Time) bool {
	return now.Before(i.ExpiresAt)
}
