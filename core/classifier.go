package core

import (
	"context"
	"errors"
	"net"
	"strings"

	"llm-keyring/models"
)

// Markers checked against lowercased error text when the HTTP status alone is
// not conclusive. Mirrors the wording the big providers actually emit.
var (
	rateLimitMarkers = []string{
		"rate limit", "rate_limit", "too many requests", "quota",
		"insufficient_quota", "resource_exhausted",
	}
	invalidKeyMarkers = []string{
		"unauthorized", "invalid api key", "api key not valid",
		"invalid_api_key", "authentication", "permission denied",
	}
)

// Classify maps a failed call's error signal onto a cooldown policy kind.
// Order matters: the HTTP status is authoritative, message markers decide the
// rest, and anything unrecognized is transient (timeouts, 5xx, bad payloads).
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	var ue *models.UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.StatusCode == 429:
			return FailureRateLimited
		case ue.StatusCode == 401 || ue.StatusCode == 403:
			return FailureInvalidCredential
		case ue.StatusCode >= 500:
			return FailureTransient
		}
	}

	// Timeouts are transient per the orchestration contract.
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return FailureRateLimited
		}
	}
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(msg, marker) {
			return FailureInvalidCredential
		}
	}
	return FailureTransient
}
