// Package httpx serves the health-probe endpoints and the request
// middleware chain.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eleven-am/ferry/internal/domain"
	"github.com/eleven-am/ferry/internal/ports"
	"github.com/eleven-am/ferry/internal/xjson"
)

// StatusSource reports the node's role and health for probe responses.
type StatusSource interface {
	Role() domain.Role
	HealthState() domain.HealthState
}

// Probes serves liveness, readiness, and detailed status for external
// schedulers. Liveness gates process restarts and fails only when the
// mount is gone; readiness gates traffic and is role-aware.
type Probes struct {
	observer ports.MountObserver
	status   StatusSource
	detector ports.SplitBrainDetector // optional
	logger   *slog.Logger
}

func NewProbes(observer ports.MountObserver, status StatusSource, detector ports.SplitBrainDetector, logger *slog.Logger) *Probes {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probes{
		observer: observer,
		status:   status,
		detector: detector,
		logger:   logger.With("component", "health-probes"),
	}
}

// Router mounts the probe endpoints.
func (p *Probes) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/liveness", p.Liveness)
	r.Get("/readiness", p.Readiness)
	r.Get("/health", p.Health)
	return r
}

func (p *Probes) Liveness(w http.ResponseWriter, r *http.Request) {
	if !p.observer.MountExists() {
		writeJSON(w, http.StatusServiceUnavailable, domain.LivenessResult{
			IsLive: false,
			Error:  (&domain.MountError{Path: p.mountPath()}).Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, domain.LivenessResult{IsLive: true})
}

func (p *Probes) Readiness(w http.ResponseWriter, r *http.Request) {
	result, status := p.readiness()
	writeJSON(w, status, result)
}

func (p *Probes) readiness() (domain.ReadinessResult, int) {
	health := p.status.HealthState()
	role := p.status.Role()

	if !p.observer.MountExists() {
		return domain.ReadinessResult{
			IsReady:         false,
			CanAcceptWrites: false,
			HealthStatus:    domain.HealthUnhealthy,
			Error:           (&domain.MountError{Path: p.mountPath()}).Error(),
		}, http.StatusServiceUnavailable
	}

	if p.detector != nil {
		event, err := p.detector.Check()
		if err != nil {
			// Detection failure does not gate readiness; the write path
			// still fails closed.
			p.logger.Warn("split-brain detection failed during readiness", "error", err)
		} else if event != nil {
			return domain.ReadinessResult{
				IsReady:            false,
				CanAcceptWrites:    false,
				HealthStatus:       health,
				SplitBrainDetected: true,
				LeaderNodeIDs:      event.ConflictingLeaders,
				Error:              (&domain.SplitBrainError{LeaderCount: len(event.ConflictingLeaders), Leaders: event.ConflictingLeaders}).Error(),
			}, http.StatusServiceUnavailable
		}
	}

	switch role {
	case domain.RolePrimary:
		if health != domain.HealthHealthy {
			return domain.ReadinessResult{
				IsReady:         false,
				CanAcceptWrites: false,
				HealthStatus:    health,
				Error:           "primary node is " + string(health),
			}, http.StatusServiceUnavailable
		}
		return domain.ReadinessResult{
			IsReady:         true,
			CanAcceptWrites: true,
			HealthStatus:    health,
		}, http.StatusOK

	default:
		if health == domain.HealthUnhealthy {
			return domain.ReadinessResult{
				IsReady:         false,
				CanAcceptWrites: false,
				HealthStatus:    health,
				Error:           "replica node is unhealthy",
			}, http.StatusServiceUnavailable
		}
		// A degraded replica still serves reads.
		return domain.ReadinessResult{
			IsReady:         true,
			CanAcceptWrites: false,
			HealthStatus:    health,
		}, http.StatusOK
	}
}

func (p *Probes) Health(w http.ResponseWriter, r *http.Request) {
	if !p.observer.MountExists() {
		writeJSON(w, http.StatusServiceUnavailable, domain.StatusResult{
			IsPrimary:    false,
			HealthStatus: domain.HealthUnhealthy,
			NodeState:    domain.RoleReplica,
			IsReady:      false,
			Error:        (&domain.MountError{Path: p.mountPath()}).Error(),
		})
		return
	}

	result, status := p.readiness()
	role := p.status.Role()
	writeJSON(w, status, domain.StatusResult{
		IsPrimary:    role == domain.RolePrimary,
		HealthStatus: result.HealthStatus,
		NodeState:    role,
		IsReady:      result.IsReady,
		Error:        result.Error,
	})
}

func (p *Probes) mountPath() string {
	type pathed interface{ MountPath() string }
	if m, ok := p.observer.(pathed); ok {
		return m.MountPath()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := xjson.Marshal(v)
	if err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
