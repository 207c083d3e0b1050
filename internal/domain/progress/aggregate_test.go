package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserProgress_CloneIsDeep(t *testing.T) {
	p := NewUserProgress("u1", unlockAt)
	p.unlockBadge("a", unlockAt)
	p.addActivityType("coding")

	c := p.Clone()
	c.unlockBadge("b", unlockAt)
	c.addActivityType("reading")
	c.BadgeUnlockedAt["a"] = time.Time{}

	assert.Equal(t, []string{"a"}, p.UnlockedBadgeIDs)
	assert.Equal(t, []string{"coding"}, p.ActivityTypes)
	assert.Equal(t, unlockAt, p.BadgeUnlockedAt["a"])
	assert.Nil(t, (*UserProgress)(nil).Clone())
}

func TestUserProgress_ActivityTypesSortedUnique(t *testing.T) {
	p := NewUserProgress("u1", unlockAt)
	for _, l := range []string{"reading", "coding", "reading", "art", "coding"} {
		p.addActivityType(l)
	}

	assert.Equal(t, []string{"art", "coding", "reading"}, p.ActivityTypes)
	assert.True(t, p.HasActivityType("coding"))
	assert.False(t, p.HasActivityType("music"))
}

func TestUserProgress_UnlockBadgeOnce(t *testing.T) {
	p := NewUserProgress("u1", unlockAt)

	assert.True(t, p.unlockBadge("a", unlockAt))
	assert.False(t, p.unlockBadge("a", unlockAt.Add(time.Hour)))
	assert.Equal(t, unlockAt, p.BadgeUnlockedAt["a"])
	assert.Len(t, p.UnlockedBadgeIDs, 1)
}

func TestUserProgress_NormalizeDerivesLevel(t *testing.T) {
	p := &UserProgress{UserID: "u1", XP: 600, Level: 42, ActivityTypes: []string{"b", "a"}}
	p.Normalize()

	assert.Equal(t, 3, p.Level)
	assert.Equal(t, []string{"a", "b"}, p.ActivityTypes)
	assert.NotNil(t, p.BadgeUnlockedAt)
	assert.Equal(t, XPToNextLevel(600), p.XPToNextLevel())
	assert.InDelta(t, LevelProgress(600), p.LevelProgress(), 0.0001)
}
