package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestBodyParser(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantJSON    bool
		wantTitle   string
		wantType    string
		wantFlag    bool
	}{
		{
			name:        "form",
			contentType: "application/x-www-form-urlencoded",
			body:        "service_type=PREP&title=+1001+&admin_override=on",
			wantTitle:   "1001",
			wantType:    "PREP",
			wantFlag:    true,
		},
		{
			name:        "form without checkbox",
			contentType: "application/x-www-form-urlencoded",
			body:        "service_type=BAR&title=7",
			wantTitle:   "7",
			wantType:    "BAR",
		},
		{
			name:        "json",
			contentType: "application/json",
			body:        `{"service_type":"WAX_PLAN","title":1002,"admin_override":true}`,
			wantJSON:    true,
			wantTitle:   "1002",
			wantType:    "WAX_PLAN",
			wantFlag:    true,
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/services", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			p := NewRequestBodyParser(httptest.NewRecorder(), req)
			if err := p.Parse(); err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if p.IsJSON() != tt.wantJSON {
				t.Errorf("IsJSON() = %v, want %v", p.IsJSON(), tt.wantJSON)
			}
			if got := p.Get("title"); got != tt.wantTitle {
				t.Errorf("Get(title) = %q, want %q", got, tt.wantTitle)
			}
			if got := p.Get("service_type"); got != tt.wantType {
				t.Errorf("Get(service_type) = %q, want %q", got, tt.wantType)
			}
			if got := p.Flag("admin_override"); got != tt.wantFlag {
				t.Errorf("Flag(admin_override) = %v, want %v", got, tt.wantFlag)
			}
			if p.Get("missing") != "" {
				t.Error("missing key should be empty")
			}
		})
	}
}

func TestRequestBodyParser_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{"title":`},
		{"bad form", "title=%zz"},
		{"too large", "title=" + strings.Repeat("a", maxBodyBytes)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/services", strings.NewReader(tt.body))
			p := NewRequestBodyParser(httptest.NewRecorder(), req)
			if err := p.Parse(); err == nil {
				t.Fatal("Parse() error = nil")
			}
			// cached
			if err := p.Parse(); err == nil {
				t.Fatal("second Parse() error = nil")
			}
		})
	}
}
