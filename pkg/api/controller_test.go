package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"contract-mesh/pkg/auth"
	"contract-mesh/pkg/contract"
	"contract-mesh/pkg/engine"
	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/event"
	"contract-mesh/pkg/health"
	"contract-mesh/pkg/metrics"
	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
	"contract-mesh/pkg/nodeclient/fakenode"
	"contract-mesh/pkg/registry"
	"contract-mesh/pkg/replica"
	"contract-mesh/pkg/store"
)

const testToken = "test-token"

type harness struct {
	srv       *httptest.Server
	reg       *registry.Registry
	contracts *contract.MemoryStore
	state     *store.Manager
	pub       *event.Publisher
	hub       *WSHub
	signer    *auth.Signer
}

func newHarness(t *testing.T, limiter *rate.Limiter, nodes ...*fakenode.Node) *harness {
	t.Helper()
	log := zerolog.Nop()
	reg := registry.New(nil, log)
	for _, n := range nodes {
		require.True(t, reg.Register(n.ID, n.URL()))
	}
	client := nodeclient.New(nil, time.Second)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	rep := replica.New(client, reg, replica.WithLogger(log), replica.WithMetrics(m))
	mgr := store.NewManager(store.NewMemoryStore(), rep, log)
	cs := contract.NewMemoryStore()
	eng := engine.New(cs, mgr, engine.WithLogger(log), engine.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	bus := event.NewBus(16, log)
	require.NoError(t, event.NewProcessor(eng, cs, log).Register(bus))
	require.NoError(t, bus.Start(ctx))

	mon := health.NewMonitor(health.WithClient(client), health.WithRecovery(2, time.Millisecond), health.WithLogger(log))
	mon.Attach(reg)

	hub := NewWSHub(log)
	pub := event.NewPublisher(reg, event.Chain{hub, event.NewHTTPNotifier(client)}, bus,
		event.WithPublisherLogger(log), event.WithPublisherMetrics(m))
	signer := auth.NewSigner("jwt-test-secret")

	s := NewServer(Deps{
		Registry:   reg,
		Contracts:  cs,
		Engine:     eng,
		State:      mgr,
		Replicator: rep,
		Publisher:  pub,
		Hub:        hub,
		Monitor:    mon,
		Gatherer:   promReg,
		Token:      testToken,
		Signer:     signer,
		Limiter:    limiter,
		Log:        log,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		pub.Wait()
		bus.Close()
		cancel()
	})
	return &harness{srv: srv, reg: reg, contracts: cs, state: mgr, pub: pub, hub: hub, signer: signer}
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("X-Auth-Token", testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func sampleContract(name string) map[string]any {
	return map[string]any{
		"name":       name,
		"state":      "active",
		"conditions": []map[string]any{{"field": 10, "operator": ">", "value": 5}},
		"actions":    []map[string]any{{"type": "sendNotification", "recipient": "ops", "message": "done"}},
	}
}

func TestHealthzAndMetricsSkipAuth(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// touch a counter so the family is exported
	h.do(t, http.MethodPost, "/api/v1/events/time", map[string]any{})

	mresp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
	body, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(body), "contract_mesh_events_published_total")
}

func TestAuth(t *testing.T) {
	h := newHarness(t, nil)
	jwtTok, err := h.signer.Generate("ops", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong token", map[string]string{"X-Auth-Token": "nope"}, http.StatusUnauthorized},
		{"static header", map[string]string{"X-Auth-Token": testToken}, http.StatusOK},
		{"static bearer", map[string]string{"Authorization": "Bearer " + testToken}, http.StatusOK},
		{"jwt bearer", map[string]string{"Authorization": "Bearer " + jwtTok}, http.StatusOK},
		{"garbage jwt", map[string]string{"Authorization": "Bearer a.b.c"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/api/v1/nodes", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/v1/nodes", nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/api/v1/nodes", nil).StatusCode)
}

func TestNodeLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/nodes", NodeRegistrationRequest{ID: "n1", Address: "http://127.0.0.1:1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	n := decodeBody[model.Node](t, resp)
	assert.Equal(t, model.NodeActive, n.Status)

	resp = h.do(t, http.MethodPost, "/api/v1/nodes", NodeRegistrationRequest{ID: "n1", Address: "http://other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/nodes", NodeRegistrationRequest{ID: "n2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPut, "/api/v1/nodes/n1", NodeStatusRequest{Status: model.NodeInactive})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.NodeInactive, decodeBody[model.Node](t, resp).Status)

	resp = h.do(t, http.MethodPut, "/api/v1/nodes/n1", NodeStatusRequest{Status: "sleeping"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/nodes/active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]model.Node](t, resp))

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/nodes/n1", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/nodes/n1", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/v1/nodes/n1", nil).StatusCode)
}

func TestCreateContractValidation(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/contracts", map[string]any{"name": "", "state": "bogus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[ErrorResponse](t, resp)
	assert.NotEmpty(t, body.Details)

	req, _ := http.NewRequest(http.MethodPost, h.srv.URL+"/api/v1/contracts", strings.NewReader("{"))
	req.Header.Set("X-Auth-Token", testToken)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestExecuteReplicatesAndReports(t *testing.T) {
	a := fakenode.New(t, "a")
	b := fakenode.New(t, "b")
	h := newHarness(t, nil, a, b)

	resp := h.do(t, http.MethodPost, "/api/v1/contracts", sampleContract("payout"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decodeBody[model.Contract](t, resp)
	require.NotEmpty(t, c.ID)

	resp = h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/execute", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody[engine.Result](t, resp)
	assert.True(t, res.Success)
	assert.Equal(t, engine.MsgExecuted, res.Message)

	for _, n := range []*fakenode.Node{a, b} {
		p, ok := n.State(c.ID)
		require.True(t, ok, "node %s has no state", n.ID)
		assert.Equal(t, model.StateCompleted, p.StateName())
	}

	resp = h.do(t, http.MethodGet, "/api/v1/state/"+c.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[model.StateResponse](t, resp)
	assert.Equal(t, model.StateCompleted, st.State.StateName())

	// completed contracts are no longer executable
	resp = h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/execute", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[[]model.AuditEntry](t, resp))
}

func TestExecuteStatusCodes(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/contracts/missing/execute", nil).StatusCode)

	body := sampleContract("never")
	body["conditions"] = []map[string]any{{"field": 1, "operator": ">", "value": 5}}
	c := decodeBody[model.Contract](t, h.do(t, http.MethodPost, "/api/v1/contracts", body))
	resp := h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/execute", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, engine.MsgConditions, decodeBody[engine.Result](t, resp).Message)
}

func TestActivateFailAndSchedule(t *testing.T) {
	h := newHarness(t, nil)

	body := sampleContract("lifecycle")
	delete(body, "state")
	c := decodeBody[model.Contract](t, h.do(t, http.MethodPost, "/api/v1/contracts", body))
	assert.Equal(t, model.StateInactive, c.State)

	resp := h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/fail", FailRequest{Reason: "early"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StateActive, decodeBody[model.Contract](t, resp).State)

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	resp = h.do(t, http.MethodPut, "/api/v1/contracts/"+c.ID+"/schedule", ScheduleRequest{ScheduledAt: at})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[model.Contract](t, resp)
	require.NotNil(t, got.Timestamps.ScheduledAt)
	assert.True(t, at.Equal(*got.Timestamps.ScheduledAt))

	resp = h.do(t, http.MethodPut, "/api/v1/contracts/"+c.ID+"/schedule", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/contracts/"+c.ID+"/fail", FailRequest{Reason: "cancelled"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StateFailed, decodeBody[model.Contract](t, resp).State)

	p, err := h.state.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", p["reason"])

	resp = h.do(t, http.MethodGet, "/api/v1/contracts?state=failed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]model.Contract](t, resp), 1)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/contracts?state=weird", nil).StatusCode)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/v1/contracts/"+c.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/contracts/"+c.ID, nil).StatusCode)
	_, err = h.state.Get(c.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestContractEventExecutesAndNotifiesNodes(t *testing.T) {
	a := fakenode.New(t, "a")
	h := newHarness(t, nil, a)

	c := decodeBody[model.Contract](t, h.do(t, http.MethodPost, "/api/v1/contracts", sampleContract("evented")))

	resp := h.do(t, http.MethodPost, "/api/v1/events/contract", ContractEventRequest{ContractID: c.ID})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		got, err := h.contracts.FindByID(context.Background(), c.ID)
		return err == nil && got.State == model.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	h.pub.Wait()
	require.Len(t, a.Events(), 1)
	var env event.Envelope
	require.NoError(t, json.Unmarshal(a.Events()[0], &env))
	assert.Equal(t, event.KindContract, env.Type)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/events/contract", ContractEventRequest{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/v1/events/state", StateEventRequest{Field: "x"}).StatusCode)
}

func TestAutoExecuteOnCreate(t *testing.T) {
	h := newHarness(t, nil)

	body := sampleContract("auto")
	body["autoExecute"] = true
	c := decodeBody[model.Contract](t, h.do(t, http.MethodPost, "/api/v1/contracts", body))

	assert.Eventually(t, func() bool {
		got, err := h.contracts.FindByID(context.Background(), c.ID)
		return err == nil && got.State == model.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconcileEndpoint(t *testing.T) {
	a := fakenode.New(t, "a")
	b := fakenode.New(t, "b")
	h := newHarness(t, nil, a, b)

	resp := h.do(t, http.MethodPost, "/api/v1/state/c-1/reconcile", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a.SetState("c-1", model.NewPayload("c-1", "active", at))
	b.SetState("c-1", model.NewPayload("c-1", "completed", at.Add(time.Minute)))

	resp = h.do(t, http.MethodPost, "/api/v1/state/c-1/reconcile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[model.StateResponse](t, resp)
	// default resolver keeps the first node in id order
	assert.Equal(t, model.StateActive, got.State.StateName())
	p, ok := b.State("c-1")
	require.True(t, ok)
	assert.Equal(t, model.StateActive, p.StateName())
}

func TestSyncEndpoint(t *testing.T) {
	a := fakenode.New(t, "a")
	h := newHarness(t, nil, a)

	resp := h.do(t, http.MethodPost, "/api/v1/state/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/state/none", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/api/v1/audit?limit=-1", nil).StatusCode)
}

func TestNodeWebsocketReceivesEvents(t *testing.T) {
	h := newHarness(t, nil)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/v1/ws/node?nodeId=n1"
	hdr := http.Header{"X-Auth-Token": []string{testToken}}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.hub.Connected("n1") }, time.Second, 5*time.Millisecond)

	env, err := event.Encode(event.ContractTrigger{ContractID: "c-9"})
	require.NoError(t, err)
	require.NoError(t, h.hub.Notify(context.Background(), model.Node{ID: "n1"}, env))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string         `json:"type"`
		Payload event.Envelope `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgEvent, msg.Type)
	ev, err := event.Decode(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, event.ContractTrigger{ContractID: "c-9"}, ev)

	assert.ErrorIs(t, h.hub.Notify(context.Background(), model.Node{ID: "ghost"}, env), ErrNotConnected)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errs.Validation("bad"), http.StatusBadRequest},
		{errs.NotFound("contract", "x"), http.StatusNotFound},
		{&errs.ReconciliationError{ContractID: "x", Reason: "none"}, http.StatusConflict},
		{&errs.NetworkError{NodeID: "n", Op: "sync", Err: io.EOF}, http.StatusBadGateway},
		{event.ErrBusClosed, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDiagnoseAndRecover(t *testing.T) {
	a := fakenode.New(t, "a")
	h := newHarness(t, nil, a)

	resp := h.do(t, http.MethodGet, "/api/v1/nodes/a/diagnose", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	diag := decodeBody[DiagnoseResponse](t, resp)
	assert.Equal(t, "ok", diag.Summary)
	assert.NotEmpty(t, diag.Results)

	a.SetHealthy(false)
	a.FailRestarts(-1)
	resp = h.do(t, http.MethodGet, "/api/v1/nodes/a/diagnose", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fail", decodeBody[DiagnoseResponse](t, resp).Summary)

	resp = h.do(t, http.MethodPost, "/api/v1/nodes/a/recover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[struct {
		Recovered bool       `json:"recovered"`
		Node      model.Node `json:"node"`
	}](t, resp)
	assert.False(t, out.Recovered)
	assert.Equal(t, model.NodeInactive, out.Node.Status)
	assert.Equal(t, 2, a.Restarts())

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/nodes/zz/diagnose", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/v1/nodes/zz/recover", nil).StatusCode)
}

func TestFleetStatus(t *testing.T) {
	a := fakenode.New(t, "a")
	b := fakenode.New(t, "b")
	h := newHarness(t, nil, a, b)
	require.True(t, h.reg.UpdateStatus("b", model.NodeInactive))
	h.do(t, http.MethodPost, "/api/v1/contracts", sampleContract("one"))

	resp := h.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[StatusResponse](t, resp)
	assert.Equal(t, NodeSummary{Total: 2, Active: 1, Inactive: 1}, st.Nodes)
	assert.Equal(t, 1, st.Contracts[model.StateActive])
	assert.Equal(t, 0, st.Contracts[model.StateCompleted])
}
