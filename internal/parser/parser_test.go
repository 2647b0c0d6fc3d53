package parser

import (
	"errors"
	"math"
	"testing"
	"time"
)

const londonBody = `{"weather":[{"main":"Clear","description":"clear sky"}],"main":{"temp":283.15,"feels_like":282.0,"temp_min":281.0,"temp_max":285.0,"pressure":1012},"wind":{"speed":3.5}}`

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestParse_London verifies the reference payload maps to the expected Celsius record.
func TestParse_London(t *testing.T) {
	fetchedAt := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	got, err := Parse([]byte(londonBody), "London", fetchedAt)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.ConditionMain != "Clear" {
		t.Errorf("ConditionMain = %q, want Clear", got.ConditionMain)
	}
	if got.ConditionDescription != "clear sky" {
		t.Errorf("ConditionDescription = %q, want clear sky", got.ConditionDescription)
	}
	if !almostEqual(got.TemperatureC, 10.0) {
		t.Errorf("TemperatureC = %v, want 10.0", got.TemperatureC)
	}
	if !almostEqual(got.FeelsLikeC, 282.0-273.15) {
		t.Errorf("FeelsLikeC = %v", got.FeelsLikeC)
	}
	if !almostEqual(got.TemperatureMinC, 281.0-273.15) || !almostEqual(got.TemperatureMaxC, 285.0-273.15) {
		t.Errorf("min/max = %v/%v", got.TemperatureMinC, got.TemperatureMaxC)
	}
	if got.PressureHPa != 1012 {
		t.Errorf("PressureHPa = %d, want 1012", got.PressureHPa)
	}
	if got.WindSpeed != 3.5 {
		t.Errorf("WindSpeed = %v, want 3.5", got.WindSpeed)
	}
	if got.LocationLabel != "London" || !got.FetchedAt.Equal(fetchedAt) {
		t.Errorf("label/fetchedAt = %q/%v", got.LocationLabel, got.FetchedAt)
	}
}

// TestParse_KelvinRoundTrip checks that one subtraction of 273.15 is applied, across a range of inputs.
func TestParse_KelvinRoundTrip(t *testing.T) {
	for _, k := range []float64{0, 200.5, 273.15, 283.15, 300.99, 330} {
		body := []byte(`{"weather":[{"main":"Clouds","description":"few clouds"}],` +
			`"main":{"temp":` + ftoa(k) + `,"feels_like":` + ftoa(k) + `,"temp_min":` + ftoa(k) + `,"temp_max":` + ftoa(k) + `,"pressure":1000},` +
			`"wind":{"speed":1}}`)
		rec, err := Parse(body, "x", time.Now())
		if err != nil {
			t.Fatalf("Parse(%v) error = %v", k, err)
		}
		if back := CelsiusToKelvin(rec.TemperatureC); math.Abs(back-k) > 1e-9 {
			t.Errorf("CelsiusToKelvin(Parse(%v).TemperatureC) = %v", k, back)
		}
		if math.Abs(rec.TemperatureC-(k-273.15)) > 1e-9 {
			t.Errorf("TemperatureC = %v, want %v", rec.TemperatureC, k-273.15)
		}
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"syntax", `{"weather":`, "body"},
		{"not an object", `[]`, "body"},
		{"missing weather", `{"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "weather"},
		{"empty weather", `{"weather":[],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "weather"},
		{"weather object", `{"weather":{"main":"Clear"},"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "weather"},
		{"missing description", `{"weather":[{"main":"Clear"}],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "weather[0].description"},
		{"missing main", `{"weather":[{"main":"Clear","description":"d"}],"wind":{"speed":1}}`, "main"},
		{"main not object", `{"weather":[{"main":"Clear","description":"d"}],"main":"hot","wind":{"speed":1}}`, "main"},
		{"string temp", `{"weather":[{"main":"Clear","description":"d"}],"main":{"temp":"warm","feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "main.temp"},
		{"missing feels_like", `{"weather":[{"main":"Clear","description":"d"}],"main":{"temp":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{"speed":1}}`, "main.feels_like"},
		{"missing pressure", `{"weather":[{"main":"Clear","description":"d"}],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1},"wind":{"speed":1}}`, "main.pressure"},
		{"missing wind", `{"weather":[{"main":"Clear","description":"d"}],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1}}`, "wind"},
		{"missing wind speed", `{"weather":[{"main":"Clear","description":"d"}],"main":{"temp":1,"feels_like":1,"temp_min":1,"temp_max":1,"pressure":1},"wind":{}}`, "wind.speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse([]byte(tt.body), "x", time.Now())
			if err == nil {
				t.Fatalf("Parse() error = nil, record = %+v", rec)
			}
			if !errors.Is(err, ErrParse) {
				t.Errorf("errors.Is(err, ErrParse) = false for %v", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if pe.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", pe.Field, tt.wantField)
			}
			if rec.ConditionMain != "" || rec.TemperatureC != 0 || !rec.FetchedAt.IsZero() {
				t.Errorf("partial record returned: %+v", rec)
			}
		})
	}
}

func TestParse_PressureRounded(t *testing.T) {
	body := `{"weather":[{"main":"Rain","description":"light rain"}],"main":{"temp":280,"feels_like":279,"temp_min":278,"temp_max":281,"pressure":1008.6},"wind":{"speed":0}}`
	rec, err := Parse([]byte(body), "Bergen", time.Now())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if rec.PressureHPa != 1009 {
		t.Errorf("PressureHPa = %d, want 1009", rec.PressureHPa)
	}
}
