package progress

import (
	"time"

	"github.com/alem-hub/study-progress/internal/domain/shared"
)

// MaxSessionSeconds - верхняя граница длительности одной сессии (сутки).
const MaxSessionSeconds int64 = 24 * 60 * 60

// Session - событие завершения рабочей сессии от коллаборатора жизненного
// цикла сессий.
type Session struct {
	UserID          string
	DurationSeconds int64
	CompletedAt     time.Time
	ActivityLabel   string
}

// Normalize проверяет событие и возвращает его нормализованную копию.
// Ошибки - ValidationError; до этой проверки ничего не мутируется.
func (s Session) Normalize() (Session, error) {
	uid, err := shared.NewUserID(s.UserID)
	if err != nil {
		return Session{}, shared.WrapError("progress", "ValidateSession", shared.ErrValidation, "userId", err)
	}
	if s.DurationSeconds <= 0 {
		return Session{}, shared.ValidationError("ValidateSession", "durationSeconds", "must be positive")
	}
	if s.DurationSeconds > MaxSessionSeconds {
		return Session{}, shared.ValidationError("ValidateSession", "durationSeconds", "must not exceed 24h")
	}
	if s.CompletedAt.IsZero() {
		return Session{}, shared.ValidationError("ValidateSession", "completedAt", "is required")
	}
	label, err := shared.NewActivityLabel(s.ActivityLabel)
	if err != nil {
		return Session{}, shared.WrapError("progress", "ValidateSession", shared.ErrValidation, "activityLabel", err)
	}

	return Session{
		UserID:          uid.String(),
		DurationSeconds: s.DurationSeconds,
		CompletedAt:     s.CompletedAt.UTC(),
		ActivityLabel:   label.String(),
	}, nil
}
