// models/sync_cursor.go
package models

import "time"

// SyncCursor remembers how far a poller has read from an upstream feed,
// so a restart resumes the same window instead of replaying a day.
// Table name: sync_cursors
type SyncCursor struct {
	Name      string    `gorm:"primaryKey;type:varchar(64)" json:"name"`
	Since     time.Time `gorm:"not null" json:"since"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
