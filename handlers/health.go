package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/app"
)

// HealthCheck returns a simple health check handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessCheck verifies the ledger store and policy snapshot are usable.
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		status := "ready"

		if deps.LedgerStore == nil {
			status = "not_ready"
			checks["ledger"] = "not_initialized"
		} else if _, err := deps.LedgerStore.CountRecords(ctx); err != nil {
			status = "not_ready"
			checks["ledger"] = "unhealthy"
			deps.Logger.Error("ledger health check failed", zap.Error(err))
		} else {
			checks["ledger"] = "healthy"
		}

		if deps.DB != nil {
			if err := deps.DB.HealthCheck(ctx); err != nil {
				status = "not_ready"
				checks["database"] = "unhealthy"
				deps.Logger.Error("database health check failed", zap.Error(err))
			} else {
				checks["database"] = "healthy"
			}
		}

		if deps.Snapshot == nil || deps.Snapshot.LoadedAt().IsZero() {
			status = "not_ready"
			checks["policies"] = "not_loaded"
		} else {
			checks["policies"] = "loaded"
		}

		response := map[string]interface{}{
			"status": status,
			"checks": checks,
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "ready" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policies, _ := deps.Policies.List(r.Context())
		pools, _ := deps.Pools.List(r.Context())

		response := map[string]interface{}{
			"version":          "0.1.0",
			"environment":      deps.Config.Environment,
			"ledger_backend":   deps.Config.Ledger.Backend,
			"policies_loaded":  len(policies),
			"pools_loaded":     len(pools),
			"snapshot_updated": deps.Snapshot.LoadedAt(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
