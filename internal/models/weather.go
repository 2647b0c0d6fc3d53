package models

import (
	"fmt"
	"math"
	"time"
)

// WeatherRecord is a normalized, Celsius-denominated weather snapshot for one location.
type WeatherRecord struct {
	ConditionMain        string    `json:"conditionMain"`
	ConditionDescription string    `json:"conditionDescription"`
	TemperatureC         float64   `json:"temperatureC"`
	FeelsLikeC           float64   `json:"feelsLikeC"`
	TemperatureMinC      float64   `json:"temperatureMinC"`
	TemperatureMaxC      float64   `json:"temperatureMaxC"`
	PressureHPa          int       `json:"pressureHPa"`
	WindSpeed            float64   `json:"windSpeed"`
	FetchedAt            time.Time `json:"fetchedAt"`
	LocationLabel        string    `json:"locationLabel"`
}

// CachedState is the persisted string view of the last successful record.
// Values are kept exactly as stored; they are meant for display.
type CachedState struct {
	LastUpdate         string `json:"lastUpdate"`
	WeatherMain        string `json:"weatherMain"`
	WeatherDescription string `json:"weatherDescription"`
	Temp               string `json:"temp"`
	FeelsLike          string `json:"feelsLike"`
	TempMin            string `json:"tempMin"`
	TempMax            string `json:"tempMax"`
	Pressure           string `json:"pressure"`
	WindSpeed          string `json:"windSpeed"`
	Localization       string `json:"localization"`
}

// Notification is what the periodic refresh hands to the notification surface.
type Notification struct {
	City          string  `json:"city"`
	ConditionMain string  `json:"conditionMain"`
	TemperatureC  float64 `json:"temperatureC"`
	FeelsLikeC    float64 `json:"feelsLikeC"`
}

// NotificationFor builds the notification summary for a record.
func NotificationFor(rec WeatherRecord) Notification {
	return Notification{
		City:          rec.LocationLabel,
		ConditionMain: rec.ConditionMain,
		TemperatureC:  rec.TemperatureC,
		FeelsLikeC:    rec.FeelsLikeC,
	}
}

// Title is the notification headline (the city).
func (n Notification) Title() string {
	return n.City
}

// Text renders the body with temperatures rounded to whole degrees.
func (n Notification) Text() string {
	return fmt.Sprintf("Weather: %s\nTemperature: %d, Feels like: %d",
		n.ConditionMain, int(math.Round(n.TemperatureC)), int(math.Round(n.FeelsLikeC)))
}
