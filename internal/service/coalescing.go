package service

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// flight is one outstanding refresh that later callers for the same city may join.
type flight struct {
	key     string
	done    chan struct{}
	waiters int
	result  models.WeatherRecord
	err     error
}

// singleFlight allows at most one outstanding refresh. A caller for the same key joins the
// outstanding refresh and receives its result; a caller for another key is rejected.
type singleFlight struct {
	mu  sync.Mutex
	cur *flight
}

func newSingleFlight() *singleFlight {
	return &singleFlight{}
}

// Do runs fn on the calling goroutine unless a refresh is already outstanding.
// joined reports whether the result came from another caller's refresh. inFlightKey is
// the key of the outstanding refresh when the call was rejected.
func (sf *singleFlight) Do(ctx context.Context, key string, fn func() (models.WeatherRecord, error)) (rec models.WeatherRecord, joined bool, inFlightKey string, err error) {
	sf.mu.Lock()
	if f := sf.cur; f != nil {
		if f.key != key {
			sf.mu.Unlock()
			return models.WeatherRecord{}, false, f.key, ErrRefreshInProgress
		}
		f.waiters++
		sf.mu.Unlock()

		select {
		case <-f.done:
			return f.result, true, "", f.err
		case <-ctx.Done():
			sf.mu.Lock()
			f.waiters--
			sf.mu.Unlock()
			return models.WeatherRecord{}, true, "", ctx.Err()
		}
	}

	f := &flight{key: key, done: make(chan struct{})}
	sf.cur = f
	sf.mu.Unlock()

	f.result, f.err = fn()

	sf.mu.Lock()
	sf.cur = nil
	sf.mu.Unlock()
	close(f.done)

	return f.result, false, "", f.err
}

// outstanding returns the key and waiter count of the current refresh, if any.
func (sf *singleFlight) outstanding() (key string, waiters int, ok bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.cur == nil {
		return "", 0, false
	}
	return sf.cur.key, sf.cur.waiters, true
}
