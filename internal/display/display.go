// Package display holds the weather view currently presented to readers.
package display

import (
	"sync"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// View is a consistent snapshot of what is shown.
type View struct {
	State       models.CachedState `json:"state"`
	HasState    bool               `json:"hasState"`
	LastError   string             `json:"lastError,omitempty"`
	LastErrorAt *time.Time         `json:"lastErrorAt,omitempty"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// Board is a mutex-guarded View. Writers replace fields under the lock so readers never
// see a half-updated view.
type Board struct {
	mu   sync.RWMutex
	view View
	now  func() time.Time
}

func NewBoard() *Board {
	return &Board{now: time.Now}
}

// Preload shows state loaded from the store at startup.
func (b *Board) Preload(state models.CachedState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.view.State = state
	b.view.HasState = true
	b.view.UpdatedAt = b.now()
}

// Show replaces the displayed state after a successful refresh and clears any error.
func (b *Board) Show(state models.CachedState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.view.State = state
	b.view.HasState = true
	b.view.LastError = ""
	b.view.LastErrorAt = nil
	b.view.UpdatedAt = b.now()
}

// ShowError reports a failed refresh. The previously shown state stays visible.
func (b *Board) ShowError(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	at := b.now()
	b.view.LastError = message
	b.view.LastErrorAt = &at
	b.view.UpdatedAt = at
}

// Snapshot returns a copy of the current view.
func (b *Board) Snapshot() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v := b.view
	if v.LastErrorAt != nil {
		at := *v.LastErrorAt
		v.LastErrorAt = &at
	}
	return v
}

// City returns the location label of the shown state, if any.
func (b *Board) City() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.view.State.Localization
}
