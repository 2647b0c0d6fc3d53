// Package location delivers city-name events that drive on-demand refreshes and
// re-target the periodic job.
package location

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/observability"
)

var (
	ErrAlreadySubscribed = errors.New("location source already has a subscriber")
	ErrEmptyCity         = errors.New("location event has no city")
)

// Event is a resolved location update.
type Event struct {
	CityName string    `json:"cityName"`
	At       time.Time `json:"at"`
	Source   string    `json:"source"`
}

// Source is a subscribe/unsubscribe stream of location events. A Source has at most
// one subscriber; the channel is closed on Unsubscribe or when ctx is done.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
	Unsubscribe() error
}

// Follow drains src and calls fn for every event until ctx is done or the source closes
// its channel. It unsubscribes on return.
func Follow(ctx context.Context, src Source, fn func(context.Context, Event)) error {
	events, err := src.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer src.Unsubscribe() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			observability.LocationEventsTotal.WithLabelValues(ev.Source).Inc()
			fn(ctx, ev)
		}
	}
}

// StaticSource emits one configured city and then closes its channel.
type StaticSource struct {
	City string
}

func (s StaticSource) Subscribe(ctx context.Context) (<-chan Event, error) {
	city := strings.TrimSpace(s.City)
	if city == "" {
		return nil, ErrEmptyCity
	}
	ch := make(chan Event, 1)
	ch <- Event{CityName: city, At: time.Now(), Source: "static"}
	close(ch)
	return ch, nil
}

func (s StaticSource) Unsubscribe() error {
	return nil
}

// Bus is an in-process Source fed by Publish. Delivery never blocks the publisher: the
// subscriber channel holds one event and a newer event replaces an unread older one.
type Bus struct {
	mu   sync.Mutex
	ch   chan Event
	stop chan struct{}
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		return nil, ErrAlreadySubscribed
	}
	ch := make(chan Event, 1)
	stop := make(chan struct{})
	b.ch, b.stop = ch, stop

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(ch)
		case <-stop:
		}
	}()
	return ch, nil
}

func (b *Bus) Unsubscribe() error {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch != nil {
		b.unsubscribe(ch)
	}
	return nil
}

func (b *Bus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != ch {
		return
	}
	close(ch)
	close(b.stop)
	b.ch, b.stop = nil, nil
}

// Publish hands ev to the subscriber. It reports false when there is no subscriber or the
// event has no city.
func (b *Bus) Publish(ev Event) bool {
	ev.CityName = strings.TrimSpace(ev.CityName)
	if ev.CityName == "" {
		return false
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		return false
	}
	select {
	case b.ch <- ev:
		return true
	default:
	}
	// Latest wins: drop the unread event and retry. Sends only happen under mu, so the
	// second send cannot block.
	select {
	case <-b.ch:
	default:
	}
	b.ch <- ev
	return true
}
