// Package privacy implements the Privacy Lock (C7): a locked/unlocked
// gate on the {shadow, vault} fact categories, auto-relocking after an
// idle period.
package privacy

import (
	"sync"
	"time"

	"cognitivecore/internal/model"
)

// Lock guards access to privacy-protected fact categories. Zero value is
// locked; construct with New for a working idle timer.
type Lock struct {
	idleTimeout time.Duration

	mu       sync.Mutex
	unlocked bool
	timer    *time.Timer
}

// New constructs a Lock that auto-relocks idleTimeout after each Unlock
// call (default 30 minutes).
func New(idleTimeout time.Duration) *Lock {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Lock{idleTimeout: idleTimeout}
}

// Unlock opens access to protected categories and (re)starts the idle
// timer; a subsequent Unlock before expiry simply resets the timer.
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.idleTimeout, l.Lock)
}

// Lock immediately closes access to protected categories.
func (l *Lock) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// IsUnlocked reports the current state.
func (l *Lock) IsUnlocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unlocked
}

// IsAccessible reports whether category can be read or written right
// now: true for every category except {shadow, vault} while locked.
func (l *Lock) IsAccessible(category model.FactCategory) bool {
	if !category.Protected() {
		return true
	}
	return l.IsUnlocked()
}
