package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// fakeCloudflare serves the two zone endpoints the cloudflare provider uses.
type fakeCloudflare struct {
	content      string
	noRecords    bool
	updateStatus int

	listCalls   atomic.Int32
	updateCalls atomic.Int32
	updated     atomic.Value
}

func (f *fakeCloudflare) record(content string) map[string]any {
	return map[string]any{
		"id":          "record1",
		"name":        "www.example.com",
		"type":        "A",
		"content":     content,
		"proxied":     false,
		"proxyable":   true,
		"ttl":         600,
		"zone_id":     "zone-1",
		"zone_name":   "example.com",
		"created_on":  "2014-01-01T05:20:00.12345Z",
		"modified_on": "2014-01-01T05:20:00.12345Z",
	}
}

func (f *fakeCloudflare) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/client/v4/zones/zone-1/dns_records":
		f.listCalls.Add(1)
		result := []map[string]any{}
		if !f.noRecords {
			result = append(result, f.record(f.content))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":     true,
			"errors":      []any{},
			"messages":    []any{},
			"result":      result,
			"result_info": map[string]any{"page": 1, "per_page": 100, "count": len(result), "total_count": len(result), "total_pages": 1},
		})
	case r.Method == http.MethodPatch && r.URL.Path == "/client/v4/zones/zone-1/dns_records/record1":
		f.updateCalls.Add(1)
		if f.updateStatus != 0 {
			w.WriteHeader(f.updateStatus)
			json.NewEncoder(w).Encode(map[string]any{
				"success":  false,
				"errors":   []map[string]any{{"code": 10000, "message": "Authentication error"}},
				"messages": []any{},
				"result":   nil,
			})
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.updated.Store(body.Content)
		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"errors":   []any{},
			"messages": []any{},
			"result":   f.record(body.Content),
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// fakeMetadata answers the IMDSv2 token call with a blank token.
type fakeMetadata struct {
	addressCalls atomic.Int32
}

func (f *fakeMetadata) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/latest/api/token":
		io.WriteString(w, "")
	case r.URL.Path == "/latest/meta-data/public-ipv4":
		f.addressCalls.Add(1)
		io.WriteString(w, "203.0.113.10")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setupRun(t *testing.T, cf *fakeCloudflare) {
	t.Helper()
	srv := httptest.NewServer(cf)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`
log:
  level: error
dns:
  provider: cloudflare
  domain: example.com
  rr: www
  zoneId: zone-1
  endpoint: %s/client/v4
`, srv.URL)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("EC2_DNS_SYNC_CONFIG", path)
	t.Setenv("CLOUDFLARE_API_TOKEN", "token")
	t.Setenv("EC2_DNS_SYNC_INTERVAL", "0s")
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name          string
		cf            *fakeCloudflare
		address       string
		expectCode    int
		expectUpdates int32
	}{
		{
			name:       "address unchanged",
			cf:         &fakeCloudflare{content: "203.0.113.10"},
			address:    "203.0.113.10",
			expectCode: 0,
		},
		{
			name:          "address changed",
			cf:            &fakeCloudflare{content: "203.0.113.10"},
			address:       "203.0.113.20",
			expectCode:    0,
			expectUpdates: 1,
		},
		{
			name:       "no matching record",
			cf:         &fakeCloudflare{noRecords: true},
			address:    "203.0.113.20",
			expectCode: 1,
		},
		{
			name:          "update rejected",
			cf:            &fakeCloudflare{content: "203.0.113.10", updateStatus: http.StatusUnauthorized},
			address:       "203.0.113.20",
			expectCode:    1,
			expectUpdates: 1,
		},
		{
			name:       "malformed static address",
			cf:         &fakeCloudflare{content: "203.0.113.10"},
			address:    "203.0.113",
			expectCode: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupRun(t, tt.cf)
			t.Setenv("EC2_DNS_SYNC_SOURCE_MODE", "static")
			t.Setenv("EC2_DNS_SYNC_SOURCE_ADDRESS", tt.address)

			if code := run(); code != tt.expectCode {
				t.Fatalf("run() = %d, want %d", code, tt.expectCode)
			}
			if got := tt.cf.updateCalls.Load(); got != tt.expectUpdates {
				t.Errorf("update calls = %d, want %d", got, tt.expectUpdates)
			}
			if tt.expectUpdates == 1 && tt.expectCode == 0 {
				if got, _ := tt.cf.updated.Load().(string); got != tt.address {
					t.Errorf("updated content = %q, want %q", got, tt.address)
				}
			}
		})
	}
}

func TestRunEmptyToken(t *testing.T) {
	cf := &fakeCloudflare{content: "203.0.113.10"}
	setupRun(t, cf)

	meta := &fakeMetadata{}
	metaSrv := httptest.NewServer(meta)
	t.Cleanup(metaSrv.Close)
	t.Setenv("EC2_DNS_SYNC_SOURCE_MODE", "imds")
	t.Setenv("EC2_DNS_SYNC_SOURCE_ENDPOINT", metaSrv.URL)

	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
	if got := meta.addressCalls.Load(); got != 0 {
		t.Errorf("address calls = %d, want 0", got)
	}
	if got := cf.listCalls.Load(); got != 0 {
		t.Errorf("provider queried %d times after failed detection", got)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	setupRun(t, &fakeCloudflare{})
	t.Setenv("CLOUDFLARE_API_TOKEN", "")

	if code := run(); code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
