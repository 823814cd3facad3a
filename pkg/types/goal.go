package types

import "time"

// Goal is a user-defined consumption target for a period.
type Goal struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Target Quantity `json:"target"`
	Period Period   `json:"period"`

	// Current is the last computed consumption for display. It is only read
	// back as a fallback before live aggregation is available.
	Current float64 `json:"current"`

	// Notified is the edge latch of the warning notification.
	Notified bool `json:"notified"`
	// LastNotifiedAt is the value of Current when the warning fired.
	LastNotifiedAt       *float64   `json:"lastNotifiedAt,omitempty"`
	LastNotificationTime *time.Time `json:"lastNotificationTime,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
}

// GoalUpdate is a partial update of a goal. Nil fields are left unchanged.
type GoalUpdate struct {
	Current              *float64
	Notified             *bool
	LastNotifiedAt       *float64
	LastNotificationTime *time.Time
	// ClearNotification removes LastNotifiedAt and LastNotificationTime.
	ClearNotification bool
}

// Apply applies the update to g.
func (u GoalUpdate) Apply(g *Goal) {
	if u.Current != nil {
		g.Current = *u.Current
	}
	if u.Notified != nil {
		g.Notified = *u.Notified
	}
	if u.ClearNotification {
		g.LastNotifiedAt = nil
		g.LastNotificationTime = nil
	}
	if u.LastNotifiedAt != nil {
		v := *u.LastNotifiedAt
		g.LastNotifiedAt = &v
	}
	if u.LastNotificationTime != nil {
		t := *u.LastNotificationTime
		g.LastNotificationTime = &t
	}
}
