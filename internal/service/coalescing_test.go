package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

func TestSingleFlight_SequentialCallsRunEach(t *testing.T) {
	sf := newSingleFlight()
	calls := 0
	fn := func() (models.WeatherRecord, error) {
		calls++
		return models.WeatherRecord{LocationLabel: "London"}, nil
	}
	for i := 0; i < 3; i++ {
		rec, joined, _, err := sf.Do(context.Background(), "london", fn)
		if err != nil || joined || rec.LocationLabel != "London" {
			t.Fatalf("Do() = %+v, joined %v, err %v", rec, joined, err)
		}
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if _, _, ok := sf.outstanding(); ok {
		t.Error("flight still outstanding after completion")
	}
}

func TestSingleFlight_RejectsOtherKey(t *testing.T) {
	sf := newSingleFlight()
	inside := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _, _ = sf.Do(context.Background(), "london", func() (models.WeatherRecord, error) {
			close(inside)
			<-release
			return models.WeatherRecord{}, nil
		})
	}()
	<-inside
	defer close(release)

	_, _, busy, err := sf.Do(context.Background(), "paris", func() (models.WeatherRecord, error) {
		t.Error("fn ran for rejected key")
		return models.WeatherRecord{}, nil
	})
	if !errors.Is(err, ErrRefreshInProgress) {
		t.Errorf("Do() error = %v, want %v", err, ErrRefreshInProgress)
	}
	if busy != "london" {
		t.Errorf("inFlightKey = %q, want london", busy)
	}
}

func TestSingleFlight_JoinSharesError(t *testing.T) {
	sf := newSingleFlight()
	inside := make(chan struct{})
	release := make(chan struct{})
	boom := errors.New("boom")
	leader := make(chan error, 1)
	go func() {
		_, _, _, err := sf.Do(context.Background(), "london", func() (models.WeatherRecord, error) {
			close(inside)
			<-release
			return models.WeatherRecord{}, boom
		})
		leader <- err
	}()
	<-inside

	joinedErr := make(chan error, 1)
	go func() {
		_, joined, _, err := sf.Do(context.Background(), "london", nil)
		if !joined {
			t.Error("second caller did not join")
		}
		joinedErr <- err
	}()
	waitForWaiters(t, sf, 1)
	close(release)

	if err := <-leader; !errors.Is(err, boom) {
		t.Errorf("leader error = %v, want %v", err, boom)
	}
	if err := <-joinedErr; !errors.Is(err, boom) {
		t.Errorf("joined error = %v, want %v", err, boom)
	}
}
