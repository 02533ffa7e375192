package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"comissao/internal/core"
	"comissao/internal/log"
	ports "comissao/internal/sheets"
)

const lastColumn = "K"

// Config selects the spreadsheet and the credentials used to reach it.
type Config struct {
	SpreadsheetID   string
	SheetBase       string // year is prefixed, e.g. "2024 Serviços"
	Location        *time.Location
	CredentialsJSON string
	CredentialsFile string
}

// Client writes the service ledger into a Google spreadsheet.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	loc           *time.Location

	mu    sync.Mutex
	known map[string]bool
}

var _ ports.ServiceLedger = (*Client)(nil)

// New creates a ledger client. Without extra options it authenticates with
// the service account credentials in cfg, falling back to
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(cfg.SheetBase) == "" {
		cfg.SheetBase = ports.DefaultSheetBase
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if len(opts) == 0 {
		creds, err := credentialOptions(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = creds
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Client{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetBase:     strings.TrimSpace(cfg.SheetBase),
		loc:           cfg.Location,
		known:         make(map[string]bool),
	}, nil
}

func credentialOptions(ctx context.Context, cfg Config) ([]goption.ClientOption, error) {
	file := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case cfg.CredentialsJSON != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Using service account credentials",
		log.FieldComponent, log.ComponentSheets,
		"credentials_size", len(credentialsJSON))
	return []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()),
	}, nil
}

// newHTTPClientWithPooling keeps a small pool of connections to the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// SheetName returns the ledger sheet for year.
func (c *Client) SheetName(year int) string {
	return yearPrefixedName(c.sheetBase, year)
}

func (c *Client) Upsert(ctx context.Context, s core.Service) error {
	title := c.SheetName(ports.YearOf(s, c.loc))
	if _, err := c.lookupSheet(ctx, title, true); err != nil {
		return err
	}

	row, current, err := c.findRow(ctx, title, s.ID)
	if err != nil {
		return err
	}
	vr := &gsheet.ValueRange{Values: [][]any{c.rowValues(s)}}

	if row == 0 {
		_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(title, "A:"+lastColumn), vr).
			ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append row to %s: %w", title, err)
		}
		return nil
	}

	if current > s.Version {
		slog.DebugContext(ctx, "Skipping stale ledger update",
			log.FieldComponent, log.ComponentSheets,
			log.FieldServiceID, s.ID,
			log.FieldVersion, s.Version,
			"sheet_version", current)
		return nil
	}
	rng := a1(title, fmt.Sprintf("A%d:%s%d", row, lastColumn, row))
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, s core.Service) error {
	title := c.SheetName(ports.YearOf(s, c.loc))
	exists, err := c.lookupSheet(ctx, title, false)
	if err != nil || !exists {
		return err
	}
	row, _, err := c.findRow(ctx, title, s.ID)
	if err != nil || row == 0 {
		return err
	}
	rng := a1(title, fmt.Sprintf("A%d:%s%d", row, lastColumn, row))
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}

func (c *Client) ListMonth(ctx context.Context, month core.MonthKey) ([]core.Service, error) {
	title := c.SheetName(month.Year())
	exists, err := c.lookupSheet(ctx, title, false)
	if err != nil || !exists {
		return nil, err
	}
	values, err := c.readRows(ctx, title)
	if err != nil {
		return nil, err
	}
	var out []core.Service
	for _, raw := range values {
		s, ok := c.parseRow(raw)
		if !ok {
			continue
		}
		if core.MonthKeyOf(s.CreatedAt, c.loc) == month {
			out = append(out, s)
		}
	}
	return out, nil
}

// lookupSheet reports whether the sheet exists, creating it with the header
// row when create is set.
func (c *Client) lookupSheet(ctx context.Context, title string, create bool) (bool, error) {
	c.mu.Lock()
	known := c.known[title]
	c.mu.Unlock()
	if known {
		return true, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read spreadsheet: %w", err)
	}
	c.mu.Lock()
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.known[sh.Properties.Title] = true
		}
	}
	known = c.known[title]
	c.mu.Unlock()
	if known || !create {
		return known, nil
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("add sheet %s: %w", title, err)
	}
	header := make([]any, len(ports.Header))
	for i, h := range ports.Header {
		header[i] = h
	}
	rng := a1(title, "A1:"+lastColumn+"1")
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{header}}).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return false, fmt.Errorf("write header to %s: %w", title, err)
	}

	c.mu.Lock()
	c.known[title] = true
	c.mu.Unlock()
	slog.InfoContext(ctx, "Created ledger sheet", log.FieldComponent, log.ComponentSheets, "sheet", title)
	return true, nil
}

func (c *Client) readRows(ctx context.Context, title string) ([][]any, error) {
	rng := a1(title, "A:"+lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// findRow returns the 1-based row holding id and the version stored there,
// or row 0 when id is absent.
func (c *Client) findRow(ctx context.Context, title, id string) (int, int64, error) {
	values, err := c.readRows(ctx, title)
	if err != nil {
		return 0, 0, err
	}
	for i, raw := range values {
		if len(raw) == 0 || cellString(raw[0]) != id {
			continue
		}
		var version int64
		if len(raw) > 10 {
			version, _ = strconv.ParseInt(cellString(raw[10]), 10, 64)
		}
		return i + 1, version, nil
	}
	return 0, 0, nil
}

func (c *Client) rowValues(s core.Service) []any {
	local := s.CreatedAt.In(c.loc)
	return []any{
		s.ID,
		string(core.MonthKeyOf(local, c.loc)),
		local.Format(ports.DateLayout),
		s.Title,
		string(s.ServiceType),
		decimal.New(s.Price.Cents, -2).InexactFloat64(),
		s.Username,
		s.UserID,
		ports.FormatFlag(s.IncludeInTotal),
		ports.FormatFlag(s.AdminOverride),
		s.Version,
	}
}

// parseRow reads a ledger row back; header, cleared and short rows are skipped.
func (c *Client) parseRow(raw []any) (core.Service, bool) {
	if len(raw) < 11 {
		return core.Service{}, false
	}
	cols := make([]string, len(raw))
	for i, v := range raw {
		cols[i] = cellString(v)
	}
	if cols[0] == "" || cols[0] == ports.Header[0] {
		return core.Service{}, false
	}

	created, err := time.ParseInLocation(ports.DateLayout, cols[2], c.loc)
	if err != nil {
		return core.Service{}, false
	}
	price, err := core.ParseDecimalToCents(cols[5])
	if err != nil {
		return core.Service{}, false
	}
	version, err := strconv.ParseInt(cols[10], 10, 64)
	if err != nil {
		return core.Service{}, false
	}
	return core.Service{
		ID:             cols[0],
		CreatedAt:      created,
		Title:          cols[3],
		ServiceType:    core.ServiceType(cols[4]),
		Price:          core.Money{Cents: price},
		Username:       cols[6],
		UserID:         cols[7],
		IncludeInTotal: ports.ParseFlag(cols[8]),
		AdminOverride:  ports.ParseFlag(cols[9]),
		Version:        version,
	}, true
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// a1 builds a quoted A1 range for a sheet title.
func a1(title, cells string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + cells
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
