// Package parser turns OpenWeatherMap current-weather bodies into normalized records.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/models"
)

// AbsoluteZeroC is the Celsius value of 0 K.
const AbsoluteZeroC = 273.15

// ErrParse is matched by every *ParseError via errors.Is.
var ErrParse = errors.New("parse weather response")

// ParseError reports the field (or "body" for syntax errors) that made a response unusable.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrParse.Error(), e.Field, e.Reason)
}

// Is reports ParseError as ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// KelvinToCelsius converts an upstream Kelvin reading.
func KelvinToCelsius(k float64) float64 {
	return k - AbsoluteZeroC
}

// CelsiusToKelvin is the inverse of KelvinToCelsius.
func CelsiusToKelvin(c float64) float64 {
	return c + AbsoluteZeroC
}

type currentWeatherResponse struct {
	Weather []struct {
		Main        *string `json:"main"`
		Description *string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
	} `json:"wind"`
}

// Parse decodes raw into a WeatherRecord labelled with locationLabel.
// Either every required field is present and typed correctly or a *ParseError is returned;
// a partially populated record is never returned.
func Parse(raw []byte, locationLabel string, fetchedAt time.Time) (models.WeatherRecord, error) {
	var resp currentWeatherResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			return models.WeatherRecord{}, &ParseError{Field: field, Reason: "expected " + typeErr.Type.String() + ", got " + typeErr.Value}
		}
		return models.WeatherRecord{}, &ParseError{Field: "body", Reason: err.Error()}
	}

	if resp.Weather == nil {
		return models.WeatherRecord{}, missing("weather")
	}
	if len(resp.Weather) == 0 {
		return models.WeatherRecord{}, &ParseError{Field: "weather", Reason: "empty array"}
	}
	cond := resp.Weather[0]
	if cond.Main == nil {
		return models.WeatherRecord{}, missing("weather[0].main")
	}
	if cond.Description == nil {
		return models.WeatherRecord{}, missing("weather[0].description")
	}

	m := resp.Main
	if m == nil {
		return models.WeatherRecord{}, missing("main")
	}
	required := []struct {
		name string
		v    *float64
	}{
		{"main.temp", m.Temp},
		{"main.feels_like", m.FeelsLike},
		{"main.temp_min", m.TempMin},
		{"main.temp_max", m.TempMax},
		{"main.pressure", m.Pressure},
	}
	for _, f := range required {
		if f.v == nil {
			return models.WeatherRecord{}, missing(f.name)
		}
	}

	if resp.Wind == nil {
		return models.WeatherRecord{}, missing("wind")
	}
	if resp.Wind.Speed == nil {
		return models.WeatherRecord{}, missing("wind.speed")
	}

	return models.WeatherRecord{
		ConditionMain:        *cond.Main,
		ConditionDescription: *cond.Description,
		TemperatureC:         KelvinToCelsius(*m.Temp),
		FeelsLikeC:           KelvinToCelsius(*m.FeelsLike),
		TemperatureMinC:      KelvinToCelsius(*m.TempMin),
		TemperatureMaxC:      KelvinToCelsius(*m.TempMax),
		PressureHPa:          int(math.Round(*m.Pressure)),
		WindSpeed:            *resp.Wind.Speed,
		FetchedAt:            fetchedAt,
		LocationLabel:        locationLabel,
	}, nil
}

func missing(field string) *ParseError {
	return &ParseError{Field: field, Reason: "missing"}
}
