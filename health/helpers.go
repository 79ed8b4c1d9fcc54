package health

import (
	"strings"
	"time"
)

// Status values
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate folds sub-statuses into one: unhealthy if any is unhealthy,
// degraded if any is degraded, healthy otherwise. The message names the
// components responsible.
func Aggregate(component string, subStatuses []Status) Status {
	var unhealthy, degraded []string
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy = append(unhealthy, sub.Component)
		case sub.IsDegraded():
			degraded = append(degraded, sub.Component)
		}
	}

	var status Status
	switch {
	case len(unhealthy) > 0:
		status = NewUnhealthy(component, "unhealthy: "+strings.Join(unhealthy, ", "))
	case len(degraded) > 0:
		status = NewDegraded(component, "degraded: "+strings.Join(degraded, ", "))
	default:
		status = NewHealthy(component, "ok")
	}

	if len(subStatuses) > 0 {
		status.SubStatuses = make([]Status, len(subStatuses))
		copy(status.SubStatuses, subStatuses)
	}
	return status
}
