// Package common contains shared constants, sentinel errors and small helpers
// used across the diacheck server packages.
package common

const (
	// AuthorizationHeader carries the bearer credential on protected requests.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the scheme prefix expected in AuthorizationHeader.
	BearerPrefix = "Bearer "
	// RequestIDHeader is echoed back on every HTTP response.
	RequestIDHeader = "X-Request-ID"
)

// Account statuses stored in users.status.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
)

// Risk tiers returned by the prediction proxy.
const (
	RiskLow      = "Low"
	RiskModerate = "Moderate"
	RiskHigh     = "High"
)
