// Package domain contains the core domain types for the blockchain context.
package domain

import "time"

// EndpointHealth is a snapshot of one RPC endpoint's health state.
// Endpoints are created at startup from configuration and are never
// removed during a run, only marked unhealthy and cooled down.
type EndpointHealth struct {
	URL                 string
	Priority            int
	Healthy             bool
	ConsecutiveFailures int
	LastFailure         time.Time
	CooldownUntil       time.Time
	LastBlock           uint64
}

// Available reports whether the endpoint may be tried at now. An
// unhealthy endpoint re-enters rotation once its cooldown expires even
// without a health-check pass, so a transiently slow node is never
// permanently blacklisted.
func (e EndpointHealth) Available(now time.Time) bool {
	return e.Healthy || now.After(e.CooldownUntil)
}
