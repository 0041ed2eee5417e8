package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// RunList is one page of run summaries.
type RunList struct {
	Runs     []mtypes.RunSummary `json:"runs"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// Readiness is the body of /readyz.
type Readiness struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
}

// ComponentStatus is the readiness of one dependency.
type ComponentStatus struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// CreateRun annotates records against the server's library.  Runs are not
// retried on transport failure by the server, so a retried request may
// produce a second run.
func (c *Client) CreateRun(ctx context.Context, records []mtypes.Record) (*mtypes.RunReport, error) {
	if len(records) == 0 {
		return nil, errors.InvalidParam("records are required")
	}
	var report mtypes.RunReport
	if err := c.post(ctx, "/api/v1/runs", map[string]interface{}{"records": records}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetRun fetches a stored run with its records.
func (c *Client) GetRun(ctx context.Context, id string) (*mtypes.RunReport, error) {
	if id == "" {
		return nil, errors.InvalidParam("run id is required")
	}
	var report mtypes.RunReport
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListRuns returns one page of summaries, newest first.  Zero page or
// pageSize use the server defaults.
func (c *Client) ListRuns(ctx context.Context, page, pageSize int) (*RunList, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list RunList
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Neighbors lists the molecules sharing a substructure with id in the
// server's similarity graph.
func (c *Client) Neighbors(ctx context.Context, id string) ([]string, error) {
	if id == "" {
		return nil, errors.InvalidParam("molecule id is required")
	}
	var resp struct {
		Neighbors []string `json:"neighbors"`
	}
	if err := c.get(ctx, "/api/v1/molecules/"+url.PathEscape(id)+"/neighbors", &resp); err != nil {
		return nil, err
	}
	return resp.Neighbors, nil
}

// Ready reports the server's readiness.  A not-ready server yields an
// *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var r Readiness
	if err := c.get(ctx, "/readyz", &r); err != nil {
		return nil, err
	}
	return &r, nil
}
