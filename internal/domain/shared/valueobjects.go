// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the owner of a progress aggregate. Chat platforms hand out
// numeric snowflakes, internal callers use slugs; both fit the same alphabet.
type UserID string

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// IsValid checks if the user ID is well formed.
func (u UserID) IsValid() bool {
	return userIDRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// IsEmpty checks if the ID is empty.
func (u UserID) IsEmpty() bool {
	return u == ""
}

// NewUserID creates a new UserID with validation.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.TrimSpace(id))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "user id must match [A-Za-z0-9_-]{1,64}")
	}
	return uid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Activity Label Value Object
// ═══════════════════════════════════════════════════════════════════════════

// ActivityLabel is the normalized free-form label of a work session
// ("coding", "reading"). Labels feed the distinct-activity set.
type ActivityLabel string

const (
	// DefaultActivityLabel is used when the caller sends no label.
	DefaultActivityLabel ActivityLabel = "general"

	// MaxActivityLabelLength is the longest accepted label, in runes.
	MaxActivityLabelLength = 64
)

// String returns the string representation.
func (a ActivityLabel) String() string {
	return string(a)
}

// NewActivityLabel trims and lowercases a label. Blank labels become
// DefaultActivityLabel.
func NewActivityLabel(raw string) (ActivityLabel, error) {
	label := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if label == "" {
		return DefaultActivityLabel, nil
	}
	if utf8.RuneCountInString(label) > MaxActivityLabelLength {
		return "", NewDomainError("shared", "NewActivityLabel", ErrValueOutOfRange, "activity label too long")
	}
	return ActivityLabel(label), nil
}
