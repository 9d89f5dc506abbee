package models

import "time"

// DeviceInfo is request metadata captured when a session is issued.
type DeviceInfo struct {
	UserAgent      string `json:"userAgent,omitempty"`
	IP             string `json:"ip,omitempty"`
	AcceptLanguage string `json:"acceptLanguage,omitempty"`
}

// Session is one issued bearer/refresh pair.
type Session struct {
	ID               string
	UserID           string
	Token            string
	RefreshToken     string
	Device           DeviceInfo
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	IsActive         bool
	LastActivity     time.Time
	CreatedAt        time.Time
}

// Usable reports whether the session may authenticate a request at now.
// Expiry is exclusive: a session whose ExpiresAt equals now is expired.
func (s *Session) Usable(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// Refreshable reports whether the refresh token may still be exchanged.
func (s *Session) Refreshable(now time.Time) bool {
	return s.IsActive && now.Before(s.RefreshExpiresAt)
}
