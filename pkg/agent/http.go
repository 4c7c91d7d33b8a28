package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"contract-mesh/pkg/api"
)

func postJSON(ctx context.Context, client *http.Client, url, token string, payload interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Register announces this node to the controller, retrying with backoff
// until it is accepted or ctx ends. An existing registration counts as success.
func (a *Agent) Register(ctx context.Context, client *http.Client, controller, token, advertise string) error {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{TLSClientConfig: a.tls}}
	}
	url := strings.TrimRight(controller, "/") + "/api/v1/nodes"
	req := api.NodeRegistrationRequest{ID: a.id, Address: advertise}

	next := 500 * time.Millisecond
	backoff := retry.WithCappedDuration(30*time.Second, retry.BackoffFunc(func() (time.Duration, bool) {
		d := next
		next *= 2
		return d, false
	}))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		code, err := postJSON(ctx, client, url, token, req)
		switch {
		case err != nil:
			a.log.Warn().Err(err).Msg("registration failed; retrying")
			return retry.RetryableError(err)
		case code == http.StatusCreated:
			a.log.Info().Str("controller", controller).Str("address", advertise).Msg("registered with controller")
			return nil
		case code == http.StatusConflict:
			a.log.Info().Msg("already registered")
			return nil
		case code == http.StatusUnauthorized || code == http.StatusBadRequest:
			return fmt.Errorf("controller rejected registration: %d", code)
		}
		a.log.Warn().Int("status", code).Msg("registration not accepted; retrying")
		return retry.RetryableError(fmt.Errorf("controller returned %d", code))
	})
}
