// Package api serves the controller's admin HTTP API and the node websocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"contract-mesh/pkg/auth"
	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/engine"
	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/event"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/registry"
	"contract-mesh/pkg/replica"
	"contract-mesh/pkg/store"
)

// Deps are the components the API drives.
type Deps struct {
	Registry   *registry.Registry
	Contracts  contract.Store
	Engine     *engine.Engine
	State      *store.Manager
	Replicator *replica.Replicator
	Publisher  *event.Publisher
	Hub        *WSHub
	Monitor    NodeMonitor
	Gatherer   prometheus.Gatherer
	Token      string
	Signer     *auth.Signer
	Limiter    *rate.Limiter
	Log        zerolog.Logger

	// HealthInterval lets diagnostics flag stale nodes.
	HealthInterval time.Duration
}

type Server struct {
	d   Deps
	log zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{d: d, log: d.Log.With().Str("component", "api").Logger()}
}

// Handler returns the routed API. /healthz and /metrics skip auth; everything
// else goes through the rate limiter and auth.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	s.RegisterRoutes(api)
	protected := RateLimit(AuthMiddleware(api, authFunc(s.d.Token, s.d.Signer)), s.d.Limiter)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.d.Gatherer != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle("/api/", protected)
	return s.accessLog(root)
}

// RegisterRoutes wires the /api/v1 handlers on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/nodes", s.listNodes)
	mux.HandleFunc("POST /api/v1/nodes", s.registerNode)
	mux.HandleFunc("GET /api/v1/nodes/active", s.activeNodes)
	mux.HandleFunc("GET /api/v1/nodes/{id}", s.getNode)
	mux.HandleFunc("PUT /api/v1/nodes/{id}", s.updateNode)
	mux.HandleFunc("DELETE /api/v1/nodes/{id}", s.deregisterNode)
	mux.HandleFunc("GET /api/v1/nodes/{id}/diagnose", s.diagnoseNode)
	mux.HandleFunc("POST /api/v1/nodes/{id}/recover", s.recoverNode)

	mux.HandleFunc("GET /api/v1/contracts", s.listContracts)
	mux.HandleFunc("POST /api/v1/contracts", s.createContract)
	mux.HandleFunc("GET /api/v1/contracts/{id}", s.getContract)
	mux.HandleFunc("DELETE /api/v1/contracts/{id}", s.deleteContract)
	mux.HandleFunc("PUT /api/v1/contracts/{id}/schedule", s.scheduleContract)
	mux.HandleFunc("POST /api/v1/contracts/{id}/activate", s.activateContract)
	mux.HandleFunc("POST /api/v1/contracts/{id}/fail", s.failContract)
	mux.HandleFunc("POST /api/v1/contracts/{id}/execute", s.executeContract)

	mux.HandleFunc("POST /api/v1/events/contract", s.publishContractEvent)
	mux.HandleFunc("POST /api/v1/events/time", s.publishTimeEvent)
	mux.HandleFunc("POST /api/v1/events/state", s.publishStateEvent)

	mux.HandleFunc("POST /api/v1/state/sync", s.syncState)
	mux.HandleFunc("GET /api/v1/state/{id}", s.getState)
	mux.HandleFunc("DELETE /api/v1/state/{id}", s.removeState)
	mux.HandleFunc("POST /api/v1/state/{id}/reconcile", s.reconcileState)

	mux.HandleFunc("GET /api/v1/audit", s.listAudit)
	mux.HandleFunc("GET /api/v1/status", s.fleetStatus)
	if s.d.Hub != nil {
		mux.HandleFunc("GET /api/v1/ws/node", s.d.Hub.HandleNodeWS)
	}
}

func (s *Server) listNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Registry.List())
}

func (s *Server) activeNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Registry.GetActiveNodes(r.Context()))
}

func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	var req NodeRegistrationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Address == "" {
		writeError(w, errs.Validation("invalid node", "id and address are required"))
		return
	}
	if !s.d.Registry.Register(req.ID, req.Address) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "node " + req.ID + " already registered"})
		return
	}
	n, _ := s.d.Registry.GetDetails(req.ID)
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, ok := s.d.Registry.GetDetails(id)
	if !ok {
		writeError(w, errs.NotFound("node", id))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req NodeStatusRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, errs.Validation("invalid node status", "status must be active or inactive"))
		return
	}
	if !s.d.Registry.UpdateStatus(id, req.Status) {
		writeError(w, errs.NotFound("node", id))
		return
	}
	n, _ := s.d.Registry.GetDetails(id)
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) deregisterNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.d.Registry.Deregister(id) {
		writeError(w, errs.NotFound("node", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	f := contract.Filter{State: model.State(r.URL.Query().Get("state"))}
	if f.State != "" && !f.State.Valid() {
		writeError(w, errs.Validation("invalid state filter", string(f.State)))
		return
	}
	cs, err := s.d.Contracts.Find(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	var req CreateContractRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.d.Contracts.Create(r.Context(), req.Contract)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("contract_id", c.ID).Str("state", string(c.State)).Msg("contract created")
	if req.AutoExecute {
		if err := s.d.Publisher.Publish(r.Context(), event.ContractTrigger{ContractID: c.ID}); err != nil {
			s.log.Warn().Err(err).Str("contract_id", c.ID).Msg("auto execute publish failed")
		}
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.d.Contracts.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// deleteContract removes the contract and, when present, its replicated state.
func (s *Server) deleteContract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.d.Contracts.DeleteByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.d.State.Remove(r.Context(), id); err != nil && !errs.IsNotFound(err) {
		s.log.Warn().Err(err).Str("contract_id", id).Msg("state removal failed")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleContract(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ScheduledAt.IsZero() {
		writeError(w, errs.Validation("invalid schedule", "scheduledAt is required"))
		return
	}
	c, err := s.d.Contracts.UpdateByID(r.Context(), r.PathValue("id"), contract.Patch{ScheduledAt: &req.ScheduledAt})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) activateContract(w http.ResponseWriter, r *http.Request) {
	c, err := s.d.Engine.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) failContract(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.d.Engine.Fail(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// executeContract runs the contract synchronously and returns the result.
func (s *Server) executeContract(w http.ResponseWriter, r *http.Request) {
	res := s.d.Engine.Execute(r.Context(), r.PathValue("id"))
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res engine.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Message == engine.MsgNotFound:
		return http.StatusNotFound
	case res.Message == engine.MsgNotActive:
		return http.StatusBadRequest
	case res.Message == engine.MsgConditions:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) publishContractEvent(w http.ResponseWriter, r *http.Request) {
	var req ContractEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ContractID == "" {
		writeError(w, errs.Validation("invalid event", "contractId is required"))
		return
	}
	s.publish(r.Context(), w, event.ContractTrigger{ContractID: req.ContractID})
}

func (s *Server) publishTimeEvent(w http.ResponseWriter, r *http.Request) {
	var req TimeEventRequest
	if !decode(w, r, &req) {
		return
	}
	at := time.Now().UTC()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}
	s.publish(r.Context(), w, event.TimeTrigger{Timestamp: at})
}

func (s *Server) publishStateEvent(w http.ResponseWriter, r *http.Request) {
	var req StateEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Field == nil || req.Value == nil {
		writeError(w, errs.Validation("invalid event", "field and value are required"))
		return
	}
	s.publish(r.Context(), w, event.StateChangeTrigger{Field: req.Field, Value: req.Value})
}

func (s *Server) publish(ctx context.Context, w http.ResponseWriter, ev event.Event) {
	if err := s.d.Publisher.Publish(ctx, ev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published", "type": string(ev.Kind())})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.State.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.StateResponse{State: p})
}

func (s *Server) removeState(w http.ResponseWriter, r *http.Request) {
	if err := s.d.State.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reconcileState(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Replicator.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.StateResponse{State: p})
}

func (s *Server) syncState(w http.ResponseWriter, r *http.Request) {
	res, err := s.d.State.SyncAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, errs.Validation("invalid limit", v))
			return
		}
		limit = n
	}
	entries, err := s.d.State.Audit(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, errs.Validation("invalid payload", err.Error()))
		return false
	}
	return true
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errs.IsReconciliation(err):
		return http.StatusConflict
	case errs.IsNetwork(err):
		return http.StatusBadGateway
	case errors.Is(err, event.ErrBusClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		resp.Error = verr.Reason
		resp.Details = verr.Errs
	}
	writeJSON(w, statusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
