// Package mesclient talks to the remote manufacturing execution system over
// HTTP: authentication, station/order lookup, recipe/progress reads, and
// increment uploads.
package mesclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/salvadorguc/sisproone-gateway/internal/telemetry"
	"github.com/salvadorguc/sisproone-gateway/pkg/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	uploadTimeout  = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Username  string
	Password  string
	CompanyID int
	UserID    int
}

// Client is the gateway's MES API surface. The bearer token is guarded by
// a single-writer refresh protocol: only Refresh (invoked by
// the Replicator) mutates it; concurrent readers take a read lock to copy
// the current token for their own request. A call that observes
// OutcomeAuthExpired is not retried; the error is returned to the caller.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu      sync.RWMutex
	token   string
	tokenID int
	expiry  time.Time
}

// New builds a Client. It does not authenticate; call Authenticate (or
// Refresh) before issuing any other request.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Authenticate exchanges username/password for a bearer token and stores it.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]any{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login_local", body, &resp, false, false); err != nil {
		return err
	}

	c.setToken(resp.Token)
	return nil
}

// Refresh is Authenticate's single-writer entry point: the Replicator calls
// it when a call returns OutcomeAuthExpired. Other callers never refresh
// directly; they surface the error and let the Replicator's next pass retry.
func (c *Client) Refresh(ctx context.Context) error {
	return c.Authenticate(ctx)
}

// TokenExpiringSoon reports whether the current token's exp claim is within
// the given horizon, so a caller can refresh proactively instead of waiting
// for a 401. Returns true if no token has been set yet.
func (c *Client) TokenExpiringSoon(horizon time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return true
	}
	if c.expiry.IsZero() {
		return false
	}
	return time.Until(c.expiry) <= horizon
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	c.expiry = parseExpiry(token)
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// parseExpiry reads the exp claim without verifying the signature: the
// gateway never needs to trust the claim, only to know when to pre-emptively
// re-authenticate rather than wait for a 401.
func parseExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// ListStations returns every station the operator may select.
func (c *Client) ListStations(ctx context.Context) ([]Station, error) {
	var out []Station
	err := c.do(ctx, http.MethodGet, "/api/estacionesTrabajo", nil, &out, true, true)
	return out, err
}

// ListAssignedOrders returns the orders assigned to stationID, highest
// priority first.
func (c *Client) ListAssignedOrders(ctx context.Context, stationID int) ([]Order, error) {
	var out []Order
	path := fmt.Sprintf("/api/ordenesDeFabricacion/listarAsignadas?estacionTrabajoId=%d", stationID)
	err := c.do(ctx, http.MethodGet, path, nil, &out, true, true)
	return out, err
}

// GetOrderRecipe returns the advisory recipe document for an order.
func (c *Client) GetOrderRecipe(ctx context.Context, orderDocNum string) (Recipe, error) {
	var out Recipe
	path := fmt.Sprintf("/api/ordenesDeFabricacion/estatus?orden=%s", orderDocNum)
	err := c.do(ctx, http.MethodGet, path, nil, &out, true, true)
	return out, err
}

// GetOrderProgress returns the current pending-quantity/ratio view of an
// order.
func (c *Client) GetOrderProgress(ctx context.Context, orderCode string) (OrderProgress, error) {
	var out OrderProgress
	path := fmt.Sprintf("/api/ordenesDeFabricacion/avance?ordenFabricacion=%s", orderCode)
	err := c.do(ctx, http.MethodGet, path, nil, &out, true, true)
	return out, err
}

// UploadIncrements submits a batch of increments and fuses the MES's
// recomputed progress for the batch's order into the same response (Open
// Question (i): see DESIGN.md). The MES is expected to treat Fingerprint as
// an idempotency key and accept a duplicate submission as a no-op success.
func (c *Client) UploadIncrements(ctx context.Context, batch []Increment) (UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var resp struct {
		Accepted int            `json:"accepted"`
		Progress *OrderProgress `json:"progress,omitempty"`
	}
	body := map[string]any{"increments": batch}
	if err := c.doWithDeadline(ctx, http.MethodPost, "/api/lecturaUPC/registrar", body, &resp, true, true); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Accepted: resp.Accepted, Progress: resp.Progress}, nil
}

// CloseOrder marks an order complete at the given station.
func (c *Client) CloseOrder(ctx context.Context, orderCode string, stationID int) error {
	body := map[string]any{"orderCode": orderCode, "stationId": stationID}
	return c.do(ctx, http.MethodPost, "/api/ordenesDeFabricacion/cerrarOrden", body, nil, true, false)
}

// ChangePriority re-ranks an order's production priority at a station.
// Grounded on original_source/monitor_industrial/sispro_connector.py's
// cambiarPrioridad.
func (c *Client) ChangePriority(ctx context.Context, orderCode string, priority int, stationID int) error {
	body := map[string]any{"orderCode": orderCode, "priority": priority, "stationId": stationID}
	return c.do(ctx, http.MethodPost, "/api/ordenesDeFabricacion/cambiarPrioridad", body, nil, true, false)
}

// ReopenOrder reopens a closed order at a station. Grounded on
// original_source/monitor_industrial/sispro_connector.py's reabrirOrden.
func (c *Client) ReopenOrder(ctx context.Context, orderCode string, stationID int) error {
	body := map[string]any{"orderCode": orderCode, "stationId": stationID}
	return c.do(ctx, http.MethodPost, "/api/ordenesDeFabricacion/reabrirOrden", body, nil, true, false)
}

// ListIncrementHistory returns increments recorded for a station within
// [from, to] (RFC3339 timestamps). Grounded on
// original_source/monitor_industrial/sispro_connector.py's
// consultar_lecturas_upc.
func (c *Client) ListIncrementHistory(ctx context.Context, from, to string, stationID int) ([]Increment, error) {
	var out []Increment
	path := fmt.Sprintf("/api/lecturaUPC/consultar?from=%s&to=%s&stationId=%d", from, to, stationID)
	err := c.do(ctx, http.MethodGet, path, nil, &out, true, true)
	return out, err
}

// do issues a request with the default per-call timeout. enveloped selects
// whether the response body is unwrapped from the MES's
// {success, data: ...} envelope before decoding into out; pass false for
// endpoints whose payload sits at the top level (login's token, or a bare
// {success} acknowledgement where out is nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed, enveloped bool) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return c.doWithDeadline(ctx, method, path, body, out, authed, enveloped)
}

func (c *Client) doWithDeadline(ctx context.Context, method, path string, body, out any, authed, enveloped bool) (err error) {
	ctx, span := telemetry.StartMESSpan(ctx, method, path)
	defer span.End()

	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.MESRequestDuration.WithLabelValues(path, outcome).Observe(time.Since(started).Seconds())
	}()

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("mesclient: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("mesclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("empresa-id", fmt.Sprintf("%d", c.cfg.CompanyID))
	if authed {
		if token := c.currentToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Outcome: OutcomeTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Outcome: OutcomeTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 300 {
		return &APIError{
			Outcome:    classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if !enveloped {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("mesclient: decode response: %w", err)
		}
		return nil
	}

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("mesclient: decode response envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("mesclient: decode response data: %w", err)
	}
	return nil
}
