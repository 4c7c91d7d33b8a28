package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"contract-mesh/pkg/event"
)

// receive validates, records and hands env to the sink. It serves both the
// HTTP /events endpoint and the controller websocket.
func (a *Agent) receive(ctx context.Context, env event.Envelope) error {
	ev, err := event.Decode(env)
	if err != nil {
		return err
	}
	if err := a.db.RecordEvent(ctx, string(env.Type), env.Payload); err != nil {
		a.log.Warn().Err(err).Str("kind", string(env.Type)).Msg("record event")
	}
	a.log.Info().Str("kind", string(env.Type)).Msg("event received")
	if a.sink != nil {
		a.sink(ctx, ev)
	}
	return nil
}

func (a *Agent) handleEvent(w http.ResponseWriter, r *http.Request) {
	var env event.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := a.receive(r.Context(), env); err != nil {
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "received")
}

func (a *Agent) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := a.db.Events(r.Context(), limit)
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, "failed to list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
