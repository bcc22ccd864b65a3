package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker serves the /healthz endpoint. It is written from the engine
// loop and the ingestion loop, so access is guarded.
type HealthChecker struct {
	mu             sync.RWMutex
	lastTick       time.Time
	lastFeedPoll   time.Time
	venueConnected bool
	breakerStopped bool
	lastError      string
}

// HealthStatus is the /healthz response body
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	LastTick       time.Time `json:"last_tick"`
	LastFeedPoll   time.Time `json:"last_feed_poll"`
	VenueConnected bool      `json:"venue_connected"`
	BreakerStopped bool      `json:"breaker_stopped"`
	Uptime         string    `json:"uptime"`
	LastError      string    `json:"last_error,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// SetTick records a completed engine tick
func (h *HealthChecker) SetTick(t time.Time) {
	h.mu.Lock()
	h.lastTick = t
	h.mu.Unlock()
}

// SetFeedPoll records a completed feed poll
func (h *HealthChecker) SetFeedPoll(t time.Time) {
	h.mu.Lock()
	h.lastFeedPoll = t
	h.mu.Unlock()
}

// SetVenueConnected records venue connectivity
func (h *HealthChecker) SetVenueConnected(ok bool) {
	h.mu.Lock()
	h.venueConnected = ok
	h.mu.Unlock()
}

// SetBreakerStopped records the circuit breaker state
func (h *HealthChecker) SetBreakerStopped(stopped bool) {
	h.mu.Lock()
	h.breakerStopped = stopped
	h.mu.Unlock()
}

// SetError records the most recent error for display
func (h *HealthChecker) SetError(msg string) {
	h.mu.Lock()
	h.lastError = msg
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.venueConnected || time.Since(h.lastTick) > time.Minute {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	health := HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		LastTick:       h.lastTick,
		LastFeedPoll:   h.lastFeedPoll,
		VenueConnected: h.venueConnected,
		BreakerStopped: h.breakerStopped,
		Uptime:         time.Since(startTime).String(),
		LastError:      h.lastError,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
