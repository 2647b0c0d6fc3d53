package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/service"
)

type mockRefresher struct {
	mu     sync.Mutex
	cities []string
	rec    models.WeatherRecord
	err    error
	block  bool
}

func (m *mockRefresher) Refresh(ctx context.Context, trigger service.Trigger, city string) (models.WeatherRecord, error) {
	m.mu.Lock()
	m.cities = append(m.cities, city)
	m.mu.Unlock()
	if trigger != service.TriggerPeriodic {
		return models.WeatherRecord{}, errors.New("wrong trigger")
	}
	if m.block {
		<-ctx.Done()
		return models.WeatherRecord{}, service.ErrRefreshCancelled
	}
	return m.rec, m.err
}

func (m *mockRefresher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cities...)
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return m.err
}

// finishCounter records every OnFinish call.
type finishCounter struct {
	mu       sync.Mutex
	outcomes []Outcome
	ch       chan Outcome
}

func newFinishCounter() *finishCounter {
	return &finishCounter{ch: make(chan Outcome, 16)}
}

func (f *finishCounter) hook(o Outcome) {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	f.mu.Unlock()
	f.ch <- o
}

func (f *finishCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}

var london = models.WeatherRecord{ConditionMain: "Clouds", TemperatureC: 11.6, FeelsLikeC: 10.4, LocationLabel: "London"}

func TestRunNow(t *testing.T) {
	tests := []struct {
		name       string
		city       string
		refresher  *mockRefresher
		notifier   *mockNotifier
		want       Outcome
		wantNotify int
	}{
		{"no city yet", "", &mockRefresher{rec: london}, &mockNotifier{}, OutcomeSkipped, 0},
		{"success notifies", "London", &mockRefresher{rec: london}, &mockNotifier{}, OutcomeSuccess, 1},
		{"failure does not notify", "London", &mockRefresher{err: errors.New("city not found")}, &mockNotifier{}, OutcomeFailure, 0},
		{"notify error is not fatal", "London", &mockRefresher{rec: london}, &mockNotifier{err: errors.New("broker down")}, OutcomeSuccess, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFinishCounter()
			p := NewPeriodicRefresher(tt.refresher, tt.notifier, nil, Config{OnFinish: fc.hook})
			p.SetCity(tt.city)

			if got := p.RunNow(context.Background()); got != tt.want {
				t.Errorf("RunNow() = %v, want %v", got, tt.want)
			}
			if fc.count() != 1 {
				t.Errorf("OnFinish called %d times, want 1", fc.count())
			}
			if len(tt.notifier.sent) != tt.wantNotify {
				t.Fatalf("notifications = %d, want %d", len(tt.notifier.sent), tt.wantNotify)
			}
			if tt.wantNotify == 1 {
				n := tt.notifier.sent[0]
				if n.Title() != "London" || n.Text() != "Weather: Clouds\nTemperature: 12, Feels like: 10" {
					t.Errorf("notification = %q / %q", n.Title(), n.Text())
				}
			}
			if tt.city == "" && len(tt.refresher.Calls()) != 0 {
				t.Error("refresher called without a city")
			}
		})
	}
}

func TestSetCity_RetargetsRuns(t *testing.T) {
	r := &mockRefresher{rec: london}
	p := NewPeriodicRefresher(r, nil, nil, Config{})
	p.SetCity("London")
	p.RunNow(context.Background())
	p.SetCity(" Paris ")
	p.RunNow(context.Background())

	calls := r.Calls()
	if len(calls) != 2 || calls[0] != "London" || calls[1] != "Paris" {
		t.Errorf("refreshed %v, want [London Paris]", calls)
	}
	if p.City() != "Paris" {
		t.Errorf("City() = %q, want Paris", p.City())
	}
}

// TestStop_CancelsRunningJob verifies Stop cancels the in-flight run, which finishes
// once as cancelled.
func TestStop_CancelsRunningJob(t *testing.T) {
	fc := newFinishCounter()
	r := &mockRefresher{block: true}
	p := NewPeriodicRefresher(r, &mockNotifier{}, nil, Config{Interval: time.Hour, OnFinish: fc.hook})
	p.SetCity("London")

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(r.Calls()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job did not start immediately")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.Stop()
	select {
	case o := <-fc.ch:
		if o != OutcomeCancelled {
			t.Errorf("outcome = %v, want %v", o, OutcomeCancelled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after Stop")
	}
	if fc.count() != 1 {
		t.Errorf("OnFinish called %d times, want 1", fc.count())
	}
}

func TestRunNow_Timeout(t *testing.T) {
	r := &mockRefresher{block: true}
	p := NewPeriodicRefresher(r, nil, nil, Config{RunTimeout: 20 * time.Millisecond})
	p.SetCity("London")
	if got := p.RunNow(context.Background()); got != OutcomeCancelled {
		t.Errorf("RunNow() = %v, want %v", got, OutcomeCancelled)
	}
}
