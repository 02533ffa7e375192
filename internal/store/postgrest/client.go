// Package postgrest stores service records in a hosted PostgREST table, such
// as the REST endpoint of a Supabase project.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"comissao/internal/core"
	"comissao/internal/store"
)

const defaultTable = "services"

// Config configures a Client.
type Config struct {
	// BaseURL is the REST root, e.g. https://project.supabase.co/rest/v1.
	BaseURL string
	APIKey  string
	Table   string
	Timeout time.Duration
}

type Client struct {
	base   *url.URL
	apiKey string
	table  string
	http   *http.Client
	clock  core.Clock
}

func New(cfg Config, clock core.Clock) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid postgrest url %q", cfg.BaseURL)
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		table:  table,
		http:   &http.Client{Timeout: timeout},
		clock:  clock,
	}, nil
}

// row is the JSON shape of a services row.
type row struct {
	ID             string          `json:"id,omitempty"`
	Title          string          `json:"title"`
	ServiceType    string          `json:"service_type"`
	Price          decimal.Decimal `json:"price"`
	UserID         string          `json:"user_id"`
	Username       string          `json:"username"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
	IncludeInTotal *bool           `json:"include_in_total"`
	AdminOverride  bool            `json:"admin_override"`
	Version        int64           `json:"version,omitempty"`
}

func (r row) toService() core.Service {
	s := core.Service{
		ID:          r.ID,
		Title:       r.Title,
		ServiceType: core.ServiceType(r.ServiceType),
		Price:       core.Money{Cents: r.Price.Shift(2).Round(0).IntPart()},
		UserID:      r.UserID,
		Username:    r.Username,
		// a missing flag counts as included
		IncludeInTotal: r.IncludeInTotal == nil || *r.IncludeInTotal,
		AdminOverride:  r.AdminOverride,
		Version:        r.Version,
	}
	if r.CreatedAt != nil {
		s.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		s.UpdatedAt = *r.UpdatedAt
	}
	return s
}

func fromService(s core.Service) row {
	include := s.IncludeInTotal
	return row{
		Title:          s.Title,
		ServiceType:    string(s.ServiceType),
		Price:          decimal.New(s.Price.Cents, -2),
		UserID:         s.UserID,
		Username:       s.Username,
		IncludeInTotal: &include,
		AdminOverride:  s.AdminOverride,
	}
}

// Select implements store.Store.
func (c *Client) Select(ctx context.Context, f store.Filter) ([]core.Service, error) {
	q := url.Values{}
	q.Set("select", "*")
	if f.ID != "" {
		q.Set("id", "eq."+f.ID)
	}
	if f.UserID != "" {
		q.Set("user_id", "eq."+f.UserID)
	}
	if f.Title != "" {
		q.Set("title", "eq."+f.Title)
	}
	if f.IncludeInTotal != nil {
		if *f.IncludeInTotal {
			q.Set("or", "(include_in_total.is.null,include_in_total.is.true)")
		} else {
			q.Set("include_in_total", "is.false")
		}
	}
	q.Set("order", "created_at.desc")

	var rows []row
	if err := c.do(ctx, http.MethodGet, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	out := make([]core.Service, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toService())
	}
	return out, nil
}

// Insert implements store.Store. The table assigns the id.
func (c *Client) Insert(ctx context.Context, s core.Service) (core.Service, error) {
	body := fromService(s)
	now := c.clock.Now().UTC()
	body.CreatedAt = &now
	body.UpdatedAt = &now
	body.Version = 1

	var rows []row
	if err := c.do(ctx, http.MethodPost, nil, body, &rows); err != nil {
		return core.Service{}, fmt.Errorf("insert service: %w", err)
	}
	if len(rows) != 1 {
		return core.Service{}, fmt.Errorf("insert service: expected 1 row, got %d", len(rows))
	}
	return rows[0].toService(), nil
}

// Update implements store.Store.
func (c *Client) Update(ctx context.Context, id string, p store.Patch, expectedVersion int64) (core.Service, error) {
	now := c.clock.Now().UTC()
	body := map[string]any{
		"include_in_total": p.IncludeInTotal,
		"admin_override":   p.AdminOverride,
		"version":          expectedVersion + 1,
		"updated_at":       now,
	}
	var rows []row
	if err := c.do(ctx, http.MethodPatch, versionFilter(id, expectedVersion), body, &rows); err != nil {
		return core.Service{}, fmt.Errorf("update service %s: %w", id, err)
	}
	if len(rows) == 0 {
		return core.Service{}, c.missingOrConflict(ctx, id, expectedVersion)
	}
	return rows[0].toService(), nil
}

// Delete implements store.Store.
func (c *Client) Delete(ctx context.Context, id string, expectedVersion int64) error {
	var rows []row
	if err := c.do(ctx, http.MethodDelete, versionFilter(id, expectedVersion), nil, &rows); err != nil {
		return fmt.Errorf("delete service %s: %w", id, err)
	}
	if len(rows) == 0 {
		return c.missingOrConflict(ctx, id, expectedVersion)
	}
	return nil
}

// Ping checks that the table is reachable.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("select", "id")
	q.Set("limit", "1")
	var rows []row
	return c.do(ctx, http.MethodGet, q, nil, &rows)
}

// versionFilter guards a write on the expected version. Rows written before
// the version column existed hold NULL, which reads back as 0 and never
// equals eq.0, so version 0 also matches NULL.
func versionFilter(id string, version int64) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+id)
	if version == 0 {
		q.Set("or", "(version.is.null,version.eq.0)")
		return q
	}
	q.Set("version", "eq."+strconv.FormatInt(version, 10))
	return q
}

func (c *Client) missingOrConflict(ctx context.Context, id string, expected int64) error {
	current, err := c.Select(ctx, store.Filter{ID: id})
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return core.ErrNotFound
	}
	return &core.ConflictError{ID: id, Expected: expected, Actual: current[0].Version}
}

// APIError is a non-2xx answer from the REST endpoint.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("postgrest: status %d", e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("postgrest: status %d: %s (%s)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("postgrest: status %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method string, q url.Values, in, out any) error {
	u := *c.base
	u.Path = u.Path + "/" + c.table
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
