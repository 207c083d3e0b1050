package shared

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("commit: %w", ErrVersionConflict)

	assert.True(t, IsConflict(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "progress.Commit")
}

func TestWrapError_KeepsCause(t *testing.T) {
	cause := errors.New("pool closed")
	err := WrapError("store", "Get", ErrServiceUnavailable, "read failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestCatalogError(t *testing.T) {
	var err error = &CatalogError{BadgeID: "typo", Reason: `unknown field "xpp"`}

	assert.True(t, IsCatalog(err))
	assert.False(t, IsValidation(err))
	assert.Contains(t, err.Error(), "typo")
}

func TestValidationError(t *testing.T) {
	err := ValidationError("CompleteSession", "durationSeconds", "must be positive")
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "durationSeconds")
}

func TestNewUserID(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"123456789012345678", true},
		{"alice_01", true},
		{"  bob-2  ", true},
		{"", false},
		{"has space", false},
		{"emoji🙂", false},
		{strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := NewUserID(tt.in)
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, strings.TrimSpace(tt.in), id.String())
			} else {
				assert.True(t, IsValidation(err))
			}
		})
	}
}

func TestNewActivityLabel(t *testing.T) {
	l, err := NewActivityLabel("  Deep   Work ")
	require.NoError(t, err)
	assert.Equal(t, ActivityLabel("deep work"), l)

	l, err = NewActivityLabel("")
	require.NoError(t, err)
	assert.Equal(t, DefaultActivityLabel, l)

	_, err = NewActivityLabel(strings.Repeat("x", MaxActivityLabelLength+1))
	assert.True(t, IsValidation(err))
}
