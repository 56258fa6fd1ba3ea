package domain

import "errors"

// Error taxonomy shared by adapters, the aggregation layer and the refresher.
var (
	// ErrUpstreamUnavailable covers timeouts, network failures, non-2xx
	// answers, unparseable payloads and anti-bot pages.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNoData means the provider answered but had nothing for the window.
	ErrNoData = errors.New("no data for symbol")
	// ErrInvalidRequest is a client error and never reaches an upstream.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSchedulerFatal marks a refresh run that aborted outside per-symbol work.
	ErrSchedulerFatal = errors.New("scheduler fatal")
)
