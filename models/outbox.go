package models

import "time"

const (
	ResetPending   = "pending"
	ResetDelivered = "delivered"
	ResetDead      = "dead"
)

// ResetEvent asks the analytics service to drop its cached valuation for a
// user. Rows are written in the same transaction as the holding change.
type ResetEvent struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        string     `gorm:"not null;size:191;index" json:"userId"`
	Reason        string     `gorm:"size:16" json:"reason"` // add, edit, delete
	Status        string     `gorm:"not null;size:16;default:pending;index:idx_reset_events_due,priority:1" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_reset_events_due,priority:2" json:"nextAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`
	DeliveredAt   *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}
