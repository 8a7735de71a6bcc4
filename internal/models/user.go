package models

// User represents a user in the system
type User struct {
	ID                   int64   `json:"id"`
	Email                string  `json:"email"`
	Username             string  `json:"username"`
	Language             string  `json:"language"`
	PushToken            *string `json:"-"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	Deleted              bool    `json:"-"`
}

// CanReceivePush reports whether a push notification may be sent to the user.
func (u *User) CanReceivePush() bool {
	return u.NotificationsEnabled && u.PushToken != nil && *u.PushToken != ""
}
