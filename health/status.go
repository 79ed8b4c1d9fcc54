// Package health reports the health of the process and its dependencies
package health

import (
	"regexp"
	"time"
)

// redactions are applied in order: URLs and DSNs before the paths they
// contain, credentials last.
var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`(nats|tls)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`(postgres|postgresql|mysql|file)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`[^\s@]+@(tcp|unix)\([^)]*\)[^\s]*`), "[DSN]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"` // true if status is "healthy"
	Status      string    `json:"status"`  // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"error_count"`
	Latency    time.Duration `json:"latency,omitempty"`
	LastCheck  time.Time     `json:"last_check,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StateHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StateDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StateUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	// Create a new slice to avoid sharing the underlying array
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// sanitizeErrorMessage strips addresses, paths and credentials from a
// dependency error before it is published on /health.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}

// FromError converts the outcome of a dependency check into a Status. A nil
// error is healthy; anything else is unhealthy with a sanitized message.
func FromError(component string, err error, latency time.Duration) Status {
	var status Status
	if err == nil {
		status = NewHealthy(component, "ok")
	} else {
		status = NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
	}
	return status.WithMetrics(&Metrics{Latency: latency, LastCheck: status.Timestamp})
}
