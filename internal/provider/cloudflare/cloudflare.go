package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/libdns/libdns"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
)

const tokenHint = "the API token credential was rejected, check CLOUDFLARE_API_TOKEN"

type CloudflareProvider struct {
	client  *cloudflare.API
	metrics *metrics.Metrics

	mu    sync.Mutex
	zones map[string]string // Cache zone name to ID mapping
}

func New(cfg config.DNS, metrics *metrics.Metrics, opts ...cloudflare.Option) (*CloudflareProvider, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("cloudflare API token required")
	}

	if cfg.Endpoint != "" {
		opts = append(opts, cloudflare.BaseURL(cfg.Endpoint))
	}
	client, err := cloudflare.NewWithAPIToken(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloudflare client: %w", err)
	}

	zones := make(map[string]string)
	if cfg.ZoneID != "" {
		zones[cfg.Domain] = cfg.ZoneID
	}

	return &CloudflareProvider{
		client:  client,
		metrics: metrics,
		zones:   zones,
	}, nil
}

func (p *CloudflareProvider) zoneID(domain string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.zones[domain]; ok {
		return id, nil
	}
	id, err := p.client.ZoneIDByName(domain)
	if err != nil {
		return "", classify("lookup zone", err)
	}
	p.zones[domain] = id
	return id, nil
}

func (p *CloudflareProvider) FindRecords(ctx context.Context, domain, name, recordType string) ([]provider.Record, error) {
	slog.Info("Getting DNS records", "zone", domain, "name", name, "type", recordType)
	start := time.Now()

	zoneID, err := p.zoneID(domain)
	if err != nil {
		p.metrics.IncDNSRequest("read", domain, false)
		return nil, err
	}

	var all []cloudflare.DNSRecord
	page := 1
	for {
		params := cloudflare.ListDNSRecordsParams{
			Name: libdns.AbsoluteName(name, domain),
			Type: recordType,
			ResultInfo: cloudflare.ResultInfo{
				Page:    page,
				PerPage: 100,
			},
		}
		records, resultInfo, err := p.client.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), params)
		if err != nil {
			p.metrics.IncDNSRequest("read", domain, false)
			return nil, classify("list dns records", err)
		}
		all = append(all, records...)
		if resultInfo == nil || page >= resultInfo.TotalPages {
			break
		}
		page++
	}
	p.metrics.IncDNSRequest("read", domain, true)

	var result []provider.Record
	for _, r := range all {
		result = append(result, provider.Record{
			ID:    r.ID,
			Name:  provider.RelativeName(r.Name, domain),
			Type:  r.Type,
			Value: r.Content,
			TTL:   time.Duration(r.TTL) * time.Second,
			Zone:  domain,
		})
	}

	slog.Debug("Retrieved DNS records", "zone", domain, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, domain string, record provider.Record) (string, error) {
	slog.Info("Updating DNS record", "zone", domain, "name", record.Name, "type", record.Type, "data", record.Value)
	start := time.Now()

	zoneID, err := p.zoneID(domain)
	if err != nil {
		p.metrics.IncDNSRequest("update", domain, false)
		return "", err
	}

	params := cloudflare.UpdateDNSRecordParams{
		ID:      record.ID,
		Type:    record.Type,
		Name:    libdns.AbsoluteName(record.Name, domain),
		Content: record.Value,
		TTL:     int(record.TTL.Seconds()),
	}
	updated, err := p.client.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), params)
	if err != nil {
		p.metrics.IncDNSRequest("update", domain, false)
		return "", classify("update dns record", err)
	}
	p.metrics.IncDNSRequest("update", domain, true)

	id := record.ID
	if updated.ID != "" {
		id = updated.ID
	}
	slog.Debug("Updated DNS record", "zone", domain, "name", record.Name, "type", record.Type, "duration", time.Since(start))
	return id, nil
}

// Error codes returned for a missing, malformed or revoked API token.
var tokenErrorCodes = map[int]bool{
	1000:  true, // invalid API token
	6003:  true, // invalid request headers
	6111:  true, // invalid authorization header
	9109:  true, // invalid access token
	10000: true, // authentication error
}

type codedError interface {
	ErrorCodes() []int
}

func classify(op string, err error) error {
	var coded codedError
	if errors.As(err, &coded) {
		for _, code := range coded.ErrorCodes() {
			if tokenErrorCodes[code] {
				return errdefs.New(errdefs.KindAuthCredential, op, err, tokenHint)
			}
		}
	}

	var authn *cloudflare.AuthenticationError
	var authz *cloudflare.AuthorizationError
	var notFound *cloudflare.NotFoundError
	switch {
	case errors.As(err, &authn):
		// a single bearer token, so there is no separate secret to blame
		return errdefs.New(errdefs.KindAuthCredential, op, err, tokenHint)
	case errors.As(err, &authz):
		return errdefs.New(errdefs.KindAuthPermission, op, err, "the API token lacks Zone.DNS edit permission for this zone")
	case errors.As(err, &notFound):
		return errdefs.New(errdefs.KindNotFound, op, err, "the zone or record does not exist in this Cloudflare account")
	}
	return errdefs.Provider(op, err)
}
