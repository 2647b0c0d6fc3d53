package store

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// MemoryStore keeps the key-value set in process. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	opts   Options
	values map[string]string
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts.withDefaults()}
}

// Save swaps the whole set in one step so readers never observe a partial write.
func (m *MemoryStore) Save(ctx context.Context, rec models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values := Encode(rec, m.opts.TimeZone)
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (models.CachedState, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedState{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := Decode(m.values)
	return state, ok, nil
}
