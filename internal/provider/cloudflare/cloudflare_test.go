package cloudflare

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
)

const (
	listURL   = `=~^http://cf/client/v4/zones/zone-1/dns_records\?`
	updateURL = "http://cf/client/v4/zones/zone-1/dns_records/record1"
)

func newTestProvider(t *testing.T) *CloudflareProvider {
	t.Helper()
	p, err := New(config.DNS{
		Provider: config.ProviderCloudflare,
		Domain:   "example.com",
		ZoneID:   "zone-1",
		Token:    "xxx",
	}, metrics.New(false), cloudflare.BaseURL("http://cf/client/v4"))
	require.NoError(t, err)
	return p
}

func dnsRecord(content string) map[string]any {
	return map[string]any{
		"content":     content,
		"name":        "www.example.com",
		"proxied":     false,
		"type":        "A",
		"comment":     "",
		"created_on":  "2014-01-01T05:20:00.12345Z",
		"id":          "record1",
		"modified_on": "2014-01-01T05:20:00.12345Z",
		"proxyable":   true,
		"ttl":         600,
		"zone_id":     "zone-1",
		"zone_name":   "example.com",
	}
}

func Test_CloudflareProvider_FindRecords(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodGet, listURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"success":  true,
			"errors":   make([]any, 0),
			"messages": make([]any, 0),
			"result":   []map[string]any{dnsRecord("192.0.2.1")},
			"result_info": map[string]any{
				"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1,
			},
		}))

	p := newTestProvider(t)
	records, err := p.FindRecords(context.Background(), "example.com", "www", "A")
	require.NoError(t, err)

	assert.Equal(t, []provider.Record{{
		ID: "record1", Name: "www", Type: "A", Value: "192.0.2.1", TTL: 600 * time.Second, Zone: "example.com",
	}}, records)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func Test_CloudflareProvider_UpdateRecord(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPatch, updateURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"success":  true,
			"errors":   make([]any, 0),
			"messages": make([]any, 0),
			"result":   dnsRecord("192.0.2.2"),
		}))

	p := newTestProvider(t)
	id, err := p.UpdateRecord(context.Background(), "example.com", provider.Record{
		ID: "record1", Name: "www", Type: "A", Value: "192.0.2.2", TTL: 600 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "record1", id)
	assert.Equal(t, 1, httpmock.GetCallCountInfo()["PATCH "+updateURL])
}

func Test_CloudflareProvider_TokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   int
		kind   errdefs.Kind
		hint   string
	}{
		{name: "authentication error", status: http.StatusForbidden, code: 10000, kind: errdefs.KindAuthCredential, hint: "CLOUDFLARE_API_TOKEN"},
		{name: "invalid api token", status: http.StatusBadRequest, code: 1000, kind: errdefs.KindAuthCredential, hint: "CLOUDFLARE_API_TOKEN"},
		{name: "invalid request headers", status: http.StatusBadRequest, code: 6003, kind: errdefs.KindAuthCredential, hint: "CLOUDFLARE_API_TOKEN"},
		{name: "invalid authorization header", status: http.StatusBadRequest, code: 6111, kind: errdefs.KindAuthCredential, hint: "CLOUDFLARE_API_TOKEN"},
		{name: "invalid access token", status: http.StatusBadRequest, code: 9109, kind: errdefs.KindAuthCredential, hint: "CLOUDFLARE_API_TOKEN"},
		{name: "unrelated bad request", status: http.StatusBadRequest, code: 1004, kind: errdefs.KindProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpmock.Activate()
			defer httpmock.DeactivateAndReset()

			httpmock.RegisterResponder(http.MethodGet, listURL,
				httpmock.NewJsonResponderOrPanic(tt.status, map[string]any{
					"success":  false,
					"errors":   []map[string]any{{"code": tt.code, "message": "error " + http.StatusText(tt.status)}},
					"messages": make([]any, 0),
					"result":   nil,
				}))

			p := newTestProvider(t)
			_, err := p.FindRecords(context.Background(), "example.com", "www", "A")
			require.Error(t, err)
			assert.Equal(t, tt.kind, errdefs.KindOf(err))
			assert.Contains(t, errdefs.HintOf(err), tt.hint)
		})
	}
}

func Test_New_RequiresToken(t *testing.T) {
	_, err := New(config.DNS{Provider: config.ProviderCloudflare, Domain: "example.com"}, metrics.New(false))
	assert.Error(t, err)
}
