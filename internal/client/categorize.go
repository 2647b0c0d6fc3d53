package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/kjstillabower/weather-refresher/internal/circuitbreaker"
	"github.com/kjstillabower/weather-refresher/internal/parser"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (weatherApiErrorsTotal).
const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryCancelled        ErrorCategory = "cancelled"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategoryHTTPStatus       ErrorCategory = "http_status"
	ErrorCategoryParsing          ErrorCategory = "parsing"
	ErrorCategoryValidation       ErrorCategory = "validation"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, parser.ErrParse) {
		return ErrorCategoryParsing
	}
	if errors.Is(err, ErrEmptyCity) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrorCategoryCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCancelled
	}

	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Kind == KindNetwork {
			var te interface{ Timeout() bool }
			if errors.As(fe.Err, &te) && te.Timeout() {
				return ErrorCategoryTimeout
			}
			return ErrorCategoryNetwork
		}
		switch {
		case fe.StatusCode == http.StatusNotFound:
			return ErrorCategoryLocationNotFound
		case fe.StatusCode == http.StatusUnauthorized:
			return ErrorCategoryInvalidAPIKey
		case fe.StatusCode == http.StatusTooManyRequests:
			return ErrorCategoryRateLimited
		case fe.StatusCode >= 500:
			return ErrorCategoryUpstream5xx
		default:
			return ErrorCategoryHTTPStatus
		}
	}

	return ErrorCategoryUnknown
}
