package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Connector reports broker connectivity.
type Connector interface {
	Connected() bool
}

type HealthChecker struct {
	app        *App
	db         Pinger
	broker     Connector
	maxPending int
}

func NewHealthChecker(app *App, db Pinger, broker Connector, maxPending int) *HealthChecker {
	return &HealthChecker{app: app, db: db, broker: broker, maxPending: maxPending}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}
	status.EventsProcessed, status.LastEventTime = h.app.Stats()

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, "database: "+err.Error())
	} else {
		status.DatabaseConnected = true
		pending, err := h.app.Pending(ctx)
		if err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, "pending: "+err.Error())
		}
		status.PendingEvents = pending
		if h.maxPending > 0 && pending > h.maxPending {
			status.Healthy = false
			status.Errors = append(status.Errors, "outbox backlog above threshold")
		}
	}

	status.NATSConnected = h.broker.Connected()
	if !status.NATSConnected {
		status.Healthy = false
		status.Errors = append(status.Errors, "nats: not connected")
	}
	return status
}

// ServeHTTP reports the health status as JSON.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
