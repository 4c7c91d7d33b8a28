package agent

import (
	"context"
	"net/http"
	"time"

	"contract-mesh/pkg/model"
)

// handleHealth answers healthy while the replica store is reachable.
func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Msg("replica store unreachable")
		writeStatus(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeStatus(w, http.StatusOK, model.StatusHealthy)
}

// handleRestart reopens the replica store. Replicas persist across it.
func (a *Agent) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Reopen(r.Context()); err != nil {
		a.log.Error().Err(err).Msg("restart failed")
		writeStatus(w, http.StatusInternalServerError, "failed")
		return
	}
	n := a.restarts.Add(1)
	a.log.Info().Int64("restarts", n).Msg("restarted")
	writeStatus(w, http.StatusOK, model.StatusRestarted)
}
