package health

import (
	"regexp"
	"time"
)

// State is the coarse health of a component.
type State string

// Health states, from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of one component, or of a group of components when
// it carries sub-statuses.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	State     State     `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Worker details, set by FromWorker.
	Restarts int           `json:"restarts,omitempty"`
	Since    time.Time     `json:"since,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`

	SubStatuses []Status `json:"sub_statuses,omitempty"`
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		State:     state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy returns a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded returns a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy returns an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return s.State == StateHealthy }
func (s Status) IsDegraded() bool  { return s.State == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// Aggregate takes the worst state of subs. An empty group is healthy.
func Aggregate(component string, subs []Status) Status {
	worst := StateHealthy
	for _, sub := range subs {
		if sub.State.rank() > worst.rank() {
			worst = sub.State
		}
	}

	var message string
	switch worst {
	case StateHealthy:
		message = "All components healthy"
	case StateDegraded:
		message = "Some components degraded"
	default:
		message = "Some components unhealthy"
	}
	s := newStatus(component, worst, message)
	s.SubStatuses = append([]Status(nil), subs...)
	return s
}

// FromWorker describes a supervised worker. Running workers are healthy,
// restarting ones degraded, stopped and failed ones unhealthy. The last
// error, if any, is sanitized into the message.
func FromWorker(name, state string, restarts int, lastErr error, since time.Time) Status {
	var s Status
	switch state {
	case "running":
		s = NewHealthy(name, "running")
	case "restarting":
		s = NewDegraded(name, "restarting")
	default:
		s = NewUnhealthy(name, state)
	}
	if lastErr != nil {
		s.Message = state + ": " + sanitizeErrorMessage(lastErr.Error())
	}
	s.Restarts = restarts
	if !since.IsZero() {
		s.Since = since
		s.Uptime = time.Since(since)
	}
	return s
}

// Replacements applied to error messages, in order. URLs go before paths
// since they contain paths.
var sanitizers = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|wss?|nats)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// sanitizeErrorMessage keeps addresses, paths and credentials out of the
// health endpoint.
func sanitizeErrorMessage(msg string) string {
	for _, s := range sanitizers {
		msg = s.re.ReplaceAllString(msg, s.with)
	}
	return msg
}
