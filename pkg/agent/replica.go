package agent

import (
	"encoding/json"
	"net/http"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/store"
)

func (a *Agent) handleSync(w http.ResponseWriter, r *http.Request) {
	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.ContractID == "" {
		writeStatus(w, http.StatusBadRequest, "contractId is required")
		return
	}
	if err := store.ValidatePayload(req.State); err != nil {
		a.log.Warn().Err(err).Str("contract_id", req.ContractID).Msg("rejected sync")
		writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.db.Put(r.Context(), req.ContractID, req.State); err != nil {
		a.log.Error().Err(err).Str("contract_id", req.ContractID).Msg("store replica")
		writeStatus(w, http.StatusInternalServerError, "store failed")
		return
	}
	a.log.Debug().Str("contract_id", req.ContractID).Str("state", string(req.State.StateName())).Msg("replica synced")
	writeStatus(w, http.StatusOK, model.StatusSynced)
}

func (a *Agent) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := a.db.Get(r.Context(), id)
	if errs.IsNotFound(err) {
		writeStatus(w, http.StatusNotFound, "state not found")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Str("contract_id", id).Msg("read replica")
		writeStatus(w, http.StatusInternalServerError, "read failed")
		return
	}
	writeJSON(w, http.StatusOK, model.StateResponse{State: p})
}

func (a *Agent) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.db.Delete(r.Context(), id); err != nil {
		a.log.Error().Err(err).Str("contract_id", id).Msg("delete replica")
		writeStatus(w, http.StatusInternalServerError, "delete failed")
		return
	}
	a.log.Debug().Str("contract_id", id).Msg("replica deleted")
	writeStatus(w, http.StatusOK, "deleted")
}
