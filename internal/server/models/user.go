package models

import "time"

// User is a registered account. Credential and lockout fields never leave
// the server.
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	Phone             *string    `json:"phone,omitempty"`
	DateOfBirth       *time.Time `json:"dateOfBirth,omitempty"`
	Gender            *string    `json:"gender,omitempty"`
	EmailVerified     bool       `json:"emailVerified"`
	Status            string     `json:"status"`
	LoginAttempts     int        `json:"-"`
	LockedUntil       *time.Time `json:"-"`
	LastLogin         *time.Time `json:"lastLogin,omitempty"`
	ResetToken        *string    `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`
	ProfilePictureKey *string    `json:"-"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        *string
	DateOfBirth  *time.Time
	Gender       *string
}

// UserUpdate lists profile fields to overwrite. Nil fields are left alone.
type UserUpdate struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	DateOfBirth *time.Time
	Gender      *string
}
