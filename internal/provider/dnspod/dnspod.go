package dnspod

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	dnspod "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/dnspod/v20210323"

	"github.com/evanofslack/ec2-dns-sync/internal/config"
	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/metrics"
	"github.com/evanofslack/ec2-dns-sync/internal/provider"
)

const (
	defaultEndpoint = "dnspod.tencentcloudapi.com"
	defaultLine     = "默认"
)

type api interface {
	DescribeRecordListWithContext(ctx context.Context, request *dnspod.DescribeRecordListRequest) (*dnspod.DescribeRecordListResponse, error)
	ModifyRecordWithContext(ctx context.Context, request *dnspod.ModifyRecordRequest) (*dnspod.ModifyRecordResponse, error)
}

type DNSPodProvider struct {
	client  api
	metrics *metrics.Metrics
}

func New(cfg config.DNS, metrics *metrics.Metrics) (*DNSPodProvider, error) {
	if !cfg.HasCredentials() {
		return nil, fmt.Errorf("dnspod secret id and secret key required")
	}

	cred := common.NewCredential(cfg.KeyID, cfg.Secret)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = defaultEndpoint
	if cfg.Endpoint != "" {
		cpf.HttpProfile.Endpoint = cfg.Endpoint
	}
	if cfg.Timeout > 0 {
		cpf.HttpProfile.ReqTimeout = timeoutSeconds(cfg.Timeout)
	}
	sdk, err := dnspod.NewClient(cred, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("create dnspod client: %w", err)
	}
	return newWithAPI(sdk, metrics), nil
}

func newWithAPI(client api, metrics *metrics.Metrics) *DNSPodProvider {
	return &DNSPodProvider{client: client, metrics: metrics}
}

func (p *DNSPodProvider) FindRecords(ctx context.Context, domain, name, recordType string) ([]provider.Record, error) {
	slog.Info("Getting DNS records", "zone", domain, "name", name, "type", recordType)
	start := time.Now()

	req := dnspod.NewDescribeRecordListRequest()
	req.Domain = common.StringPtr(domain)
	req.Subdomain = common.StringPtr(name)
	req.RecordType = common.StringPtr(recordType)

	resp, err := p.client.DescribeRecordListWithContext(ctx, req)
	if err != nil {
		if errorCode(err) == "ResourceNotFound.NoDataOfRecord" {
			p.metrics.IncDNSRequest("read", domain, true)
			return nil, nil
		}
		p.metrics.IncDNSRequest("read", domain, false)
		return nil, classify("describe record list", err)
	}
	p.metrics.IncDNSRequest("read", domain, true)

	var result []provider.Record
	if resp == nil || resp.Response == nil {
		return result, nil
	}
	for _, it := range resp.Response.RecordList {
		if it == nil || it.RecordId == nil {
			continue
		}
		if it.Line != nil && strings.TrimSpace(*it.Line) != defaultLine {
			continue
		}
		result = append(result, provider.Record{
			ID:    strconv.FormatUint(*it.RecordId, 10),
			Name:  stringValue(it.Name),
			Type:  stringValue(it.Type),
			Value: stringValue(it.Value),
			TTL:   time.Duration(uint64Value(it.TTL)) * time.Second,
			Zone:  domain,
		})
	}

	slog.Debug("Retrieved DNS records", "zone", domain, "count", len(result), "duration", time.Since(start))
	return result, nil
}

func (p *DNSPodProvider) UpdateRecord(ctx context.Context, domain string, record provider.Record) (string, error) {
	slog.Info("Updating DNS record", "zone", domain, "name", record.Name, "type", record.Type, "data", record.Value)
	start := time.Now()

	id, err := strconv.ParseUint(strings.TrimSpace(record.ID), 10, 64)
	if err != nil {
		return "", errdefs.Provider("modify record", fmt.Errorf("invalid record id %q: %w", record.ID, err))
	}

	req := dnspod.NewModifyRecordRequest()
	req.Domain = common.StringPtr(domain)
	req.RecordId = common.Uint64Ptr(id)
	req.SubDomain = common.StringPtr(record.Name)
	req.RecordType = common.StringPtr(record.Type)
	req.RecordLine = common.StringPtr(defaultLine)
	req.Value = common.StringPtr(record.Value)
	req.TTL = common.Uint64Ptr(uint64(record.TTL / time.Second))

	resp, err := p.client.ModifyRecordWithContext(ctx, req)
	if err != nil {
		p.metrics.IncDNSRequest("update", domain, false)
		return "", classify("modify record", err)
	}
	p.metrics.IncDNSRequest("update", domain, true)

	newID := record.ID
	if resp != nil && resp.Response != nil && resp.Response.RecordId != nil {
		newID = strconv.FormatUint(*resp.Response.RecordId, 10)
	}
	slog.Debug("Updated DNS record", "zone", domain, "name", record.Name, "type", record.Type, "duration", time.Since(start))
	return newID, nil
}

func classify(op string, err error) error {
	code := errorCode(err)
	switch {
	case code == "AuthFailure.SecretIdNotFound" || code == "AuthFailure.InvalidSecretId":
		return errdefs.AuthCredential(op, err)
	case code == "AuthFailure.SignatureFailure":
		return errdefs.AuthSecret(op, err)
	case code == "AuthFailure.UnauthorizedOperation" || strings.HasPrefix(code, "UnauthorizedOperation"):
		return errdefs.New(errdefs.KindAuthPermission, op, err, "CAM permission denied, grant QcloudDNSPodFullAccess to the secret id")
	case code == "ResourceNotFound.NoDataOfDomain" || code == "InvalidParameterValue.DomainNotExists":
		return errdefs.New(errdefs.KindNotFound, op, err, "the domain is not managed by this Tencent Cloud account")
	}
	return errdefs.Provider(op, err)
}

func errorCode(err error) string {
	var sdkErr *sdkerrors.TencentCloudSDKError
	if errors.As(err, &sdkErr) {
		return sdkErr.Code
	}
	return ""
}

// timeoutSeconds rounds up, the SDK takes whole seconds and treats 0 as its default.
func timeoutSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func uint64Value(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
