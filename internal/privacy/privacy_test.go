package privacy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cognitivecore/internal/model"
)

func TestStartsLocked(t *testing.T) {
	l := New(time.Hour)
	assert.False(t, l.IsUnlocked())
	assert.False(t, l.IsAccessible(model.CategoryShadow))
	assert.True(t, l.IsAccessible(model.CategoryGeneral))
}

func TestUnlockGrantsAccessToProtectedCategories(t *testing.T) {
	l := New(time.Hour)
	l.Unlock()
	assert.True(t, l.IsAccessible(model.CategoryShadow))
	assert.True(t, l.IsAccessible(model.CategoryVault))
}

func TestExplicitLockRevokesImmediately(t *testing.T) {
	l := New(time.Hour)
	l.Unlock()
	l.Lock()
	assert.False(t, l.IsAccessible(model.CategoryVault))
}

func TestIdleTimeoutAutoRelocks(t *testing.T) {
	l := New(10 * time.Millisecond)
	l.Unlock()
	assert.True(t, l.IsUnlocked())
	time.Sleep(50 * time.Millisecond)
	assert.False(t, l.IsUnlocked())
}

func TestUnlockResetsIdleTimer(t *testing.T) {
	l := New(30 * time.Millisecond)
	l.Unlock()
	time.Sleep(20 * time.Millisecond)
	l.Unlock() // resets the clock
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.IsUnlocked())
}
