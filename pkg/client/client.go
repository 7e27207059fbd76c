// Package client talks to a crucible node's REST API on behalf of remote
// workers and agents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	reservationsvc "github.com/caesium-cloud/crucible/api/rest/service/reservation"
	"github.com/caesium-cloud/crucible/internal/ingest"
	"github.com/caesium-cloud/crucible/internal/models"
	"github.com/caesium-cloud/crucible/internal/readiness"
	"github.com/caesium-cloud/crucible/internal/reservation"
)

var (
	// ErrConflict means the server refused a claim because another worker
	// holds the unit or it stopped being eligible.
	ErrConflict = errors.New("conflict")
	// ErrNotFound means the reservation or job no longer exists, typically
	// because the lease was swept.
	ErrNotFound = errors.New("not found")
)

// Client is a crucible REST client.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the node at baseURL. A nil httpClient uses one
// with a 30 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimSuffix(baseURL, "/"), http: httpClient}
}

// Buildable lists claimable units.
func (c *Client) Buildable(ctx context.Context, limit int, selectors ...string) ([]*readiness.Candidate, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	for _, s := range selectors {
		q.Add("selector", s)
	}

	var out []*readiness.Candidate
	err := c.do(ctx, http.MethodGet, "/v1/buildable?"+q.Encode(), nil, &out)
	return out, err
}

// Claim reserves unitID for workerID.
func (c *Client) Claim(ctx context.Context, workerID string, unitID int64, parentUnitID *int64) (*models.Reservation, error) {
	req := reservationsvc.ClaimRequest{WorkerID: workerID, UnitID: unitID, ParentUnitID: parentUnitID}

	out := &models.Reservation{}
	if err := c.do(ctx, http.MethodPost, "/v1/reservations", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start marks the reserved unit in progress and returns the stage to run.
func (c *Client) Start(ctx context.Context, reservationID int64) (*reservationsvc.StartResponse, error) {
	out := &reservationsvc.StartResponse{}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/reservations/%d/start", reservationID), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Heartbeat renews a lease.
func (c *Client) Heartbeat(ctx context.Context, reservationID int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/reservations/%d/heartbeat", reservationID), nil, nil)
}

// Release gives a lease back with the stage outcome.
func (c *Client) Release(ctx context.Context, reservationID int64, outcome reservation.Outcome) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/reservations/%d", reservationID), outcome, nil)
}

// ClaimPush claims the next pending cache push, or returns nil when there
// is none.
func (c *Client) ClaimPush(ctx context.Context, destinations ...string) (*models.CachePushJob, error) {
	body := map[string][]string{"destinations": destinations}

	var out *models.CachePushJob
	if err := c.do(ctx, http.MethodPost, "/v1/cache-push/claim", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportPush records the result of a push. A nil cause reports success.
func (c *Client) ReportPush(ctx context.Context, jobID int64, cause error) error {
	body := map[string]string{"result": "completed"}
	if cause != nil {
		body = map[string]string{"result": "failed", "error": cause.Error()}
	}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/cache-push/%d", jobID), body, nil)
}

// AgentHeartbeat reports a deployed host's state.
func (c *Client) AgentHeartbeat(ctx context.Context, hostname string, report ingest.AgentReport) error {
	return c.do(ctx, http.MethodPost, "/v1/agents/"+url.PathEscape(hostname)+"/heartbeat", report, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s %s: %w", method, path, ErrConflict)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(buf)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent || len(buf) == 0 {
		return nil
	}
	return json.Unmarshal(buf, out)
}
