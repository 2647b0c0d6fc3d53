package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

const memcachedKeyPrefix = "pref:"

// MemcachedStore keeps the whole key-value set as one JSON item, so a Save is a single Set.
// Items never expire; memcached eviction is the only way state is lost.
type MemcachedStore struct {
	client *memcache.Client
	opts   Options
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int, opts Options) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, opts: opts.withDefaults()}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (m *MemcachedStore) key() string {
	return memcachedKeyPrefix + m.opts.Namespace
}

func (m *MemcachedStore) Save(ctx context.Context, rec models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(Encode(rec, m.opts.TimeZone))
	if err != nil {
		return fmt.Errorf("memcached store: marshal: %w", err)
	}
	if err := m.client.Set(&memcache.Item{Key: m.key(), Value: raw}); err != nil {
		return fmt.Errorf("memcached store: set: %w", err)
	}
	return nil
}

func (m *MemcachedStore) Load(ctx context.Context) (models.CachedState, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedState{}, false, err
	}
	item, err := m.client.Get(m.key())
	if err == memcache.ErrCacheMiss {
		return models.CachedState{}, false, nil
	}
	if err != nil {
		return models.CachedState{}, false, fmt.Errorf("memcached store: get: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(item.Value, &values); err != nil {
		return models.CachedState{}, false, fmt.Errorf("memcached store: decode: %w", err)
	}
	state, ok := Decode(values)
	return state, ok, nil
}

// Ping checks if memcached is reachable.
func (m *MemcachedStore) Ping(ctx context.Context) error {
	return m.client.Ping()
}

func (m *MemcachedStore) Close() error {
	return m.client.Close()
}
