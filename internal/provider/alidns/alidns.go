package alidns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	dnsapi "github.com/alibabacloud-go/alidns-20150109/v4/client"
	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	"github.com/alibabacloud-go/tea/tea"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
)

const defaultEndpoint = "alidns.aliyuncs.com"

// api is the part of the Alibaba Cloud DNS SDK client in use.
type api interface {
	DescribeDomainRecords(request *dnsapi.DescribeDomainRecordsRequest) (*dnsapi.DescribeDomainRecordsResponse, error)
	UpdateDomainRecord(request *dnsapi.UpdateDomainRecordRequest) (*dnsapi.UpdateDomainRecordResponse, error)
}

type AliDNSProvider struct {
	client  api
	metrics *metrics.Metrics
}

func New(cfg config.DNS, metrics *metrics.Metrics) (*AliDNSProvider, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("alidns access key id and secret required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := int(cfg.Timeout / time.Millisecond)
	oc := &openapi.Config{
		AccessKeyId:     tea.String(cfg.KeyID),
		AccessKeySecret: tea.String(cfg.Secret),
		Endpoint:        tea.String(endpoint),
	}
	if timeout > 0 {
		oc.ConnectTimeout = tea.Int(timeout)
		oc.ReadTimeout = tea.Int(timeout)
	}

	client, err := dnsapi.NewClient(oc)
	if err != nil {
		return nil, fmt.Errorf("failed to create alidns client: %w", err)
	}
	return newWithAPI(client, metrics), nil
}

func newWithAPI(client api, metrics *metrics.Metrics) *AliDNSProvider {
	return &AliDNSProvider{client: client, metrics: metrics}
}

func (p *AliDNSProvider) FindRecords(ctx context.Context, domain, name, recordType string) ([]provider.Record, error) {
	slog.Info("Getting DNS records", "zone", domain, "name", name, "type", recordType)
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := &dnsapi.DescribeDomainRecordsRequest{
		DomainName:  tea.String(domain),
		RRKeyWord:   tea.String(name),
		TypeKeyWord: tea.String(recordType),
		PageSize:    tea.Int64(100),
	}
	resp, err := p.client.DescribeDomainRecords(req)
	if err != nil {
		p.metrics.IncDNSRequest("read", domain, false)
		return nil, classify("describe domain records", err)
	}
	p.metrics.IncDNSRequest("read", domain, true)

	var result []provider.Record
	if resp == nil || resp.Body == nil || resp.Body.DomainRecords == nil {
		return result, nil
	}
	for _, r := range resp.Body.DomainRecords.Record {
		if r == nil {
			continue
		}
		// keyword filters are fuzzy, keep exact matches only
		if tea.StringValue(r.RR) != name || !strings.EqualFold(tea.StringValue(r.Type), recordType) {
			continue
		}
		result = append(result, provider.Record{
			ID:    tea.StringValue(r.RecordId),
			Name:  tea.StringValue(r.RR),
			Type:  strings.ToUpper(tea.StringValue(r.Type)),
			Value: tea.StringValue(r.Value),
			TTL:   time.Duration(tea.Int64Value(r.TTL)) * time.Second,
			Zone:  domain,
		})
	}

	slog.Debug("Retrieved DNS records", "zone", domain, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *AliDNSProvider) UpdateRecord(ctx context.Context, domain string, record provider.Record) (string, error) {
	slog.Info("Updating DNS record", "zone", domain, "name", record.Name, "type", record.Type, "data", record.Value)
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := &dnsapi.UpdateDomainRecordRequest{
		RecordId: tea.String(record.ID),
		RR:       tea.String(record.Name),
		Type:     tea.String(record.Type),
		Value:    tea.String(record.Value),
		TTL:      tea.Int64(int64(record.TTL / time.Second)),
	}
	resp, err := p.client.UpdateDomainRecord(req)
	if err != nil {
		p.metrics.IncDNSRequest("update", domain, false)
		return "", classify("update domain record", err)
	}
	p.metrics.IncDNSRequest("update", domain, true)

	id := record.ID
	if resp != nil && resp.Body != nil {
		if rid := tea.StringValue(resp.Body.RecordId); rid != "" {
			id = rid
		}
		slog.Debug("Update response", "record_id", id, "request_id", tea.StringValue(resp.Body.RequestId))
	}
	slog.Debug("Updated DNS record", "zone", domain, "name", record.Name, "type", record.Type, "duration", time.Since(start))
	return id, nil
}

func classify(op string, err error) error {
	code := errorCode(err)
	switch {
	case strings.HasPrefix(code, "InvalidAccessKeyId"):
		return errdefs.AuthCredential(op, err)
	case code == "SignatureDoesNotMatch" || code == "IncompleteSignature":
		return errdefs.AuthSecret(op, err)
	case strings.HasPrefix(code, "Forbidden"):
		return errdefs.New(errdefs.KindAuthPermission, op, err, "RAM permission denied, attach AliyunDNSFullAccess to the access key")
	case strings.HasPrefix(code, "InvalidDomainName"):
		return errdefs.New(errdefs.KindNotFound, op, err, "the domain is not managed by this Alibaba Cloud account")
	}
	return errdefs.Provider(op, err)
}

var knownCodes = []string{"InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden.RAM", "InvalidDomainName"}

func errorCode(err error) string {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) && sdkErr.Code != nil {
		return tea.StringValue(sdkErr.Code)
	}
	msg := err.Error()
	for _, c := range knownCodes {
		if strings.Contains(msg, c) {
			return c
		}
	}
	return ""
}
