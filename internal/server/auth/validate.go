package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MinPasswordLength = 8
	// MaxPasswordBytes is the longest input bcrypt will hash.
	MaxPasswordBytes = 72
	passwordSymbols   = "@$!%*?&"
	minNameLength     = 2
	maxNameLength     = 50
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a bare addr-spec with a dotted domain.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// PasswordProblem returns a human-readable reason the password is too weak,
// or "" when it satisfies the complexity rule.
func PasswordProblem(pw string) string {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return "Password must be at least 8 characters long"
	}
	if len(pw) > MaxPasswordBytes {
		return "Password must be at most 72 bytes long"
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return "Password must contain at least one uppercase letter, one lowercase letter, one number, and one special character"
	}
	return ""
}

// ValidName checks a trimmed first or last name.
func ValidName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= minNameLength && n <= maxNameLength
}

func ValidGender(g string) bool {
	switch g {
	case "male", "female", "other":
		return true
	}
	return false
}

// ValidPhone accepts digits with an optional leading '+', ignoring spaces
// and dashes.
func ValidPhone(p string) bool {
	p = strings.NewReplacer(" ", "", "-", "").Replace(p)
	return phonePattern.MatchString(p)
}

// ParseDate parses an ISO 8601 calendar date, with or without a time part.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
