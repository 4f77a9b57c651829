package imds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsimds "github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/source"
)

type sdkClient struct {
	api     *awsimds.Client
	timeout time.Duration
}

// NewSDK returns a source backed by the AWS SDK metadata client. Retries and
// the IMDSv1 fallback are disabled so it behaves like New. The SDK picks its
// own session token TTL, opts.TokenTTL is ignored.
func NewSDK(opts Options) source.Source {
	opts.setDefaults()
	api := awsimds.New(awsimds.Options{
		Endpoint:       opts.Endpoint,
		HTTPClient:     opts.HTTP,
		Retryer:        aws.NopRetryer{},
		EnableFallback: aws.FalseTernary,
	})
	return &sdkClient{api: api, timeout: opts.Timeout}
}

func (c *sdkClient) Name() string {
	return "aws-sdk"
}

func (c *sdkClient) Address(ctx context.Context) (netip.Addr, error) {
	const op = "detect public address"
	if err := checkEnabled(op); err != nil {
		return netip.Addr{}, err
	}

	// token and metadata calls share one deadline
	ctx, cancel := context.WithTimeout(ctx, 2*c.timeout)
	defer cancel()

	out, err := c.api.GetMetadata(ctx, &awsimds.GetMetadataInput{Path: "public-ipv4"})
	if err != nil {
		var re *smithyhttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == 404 {
			return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, err, hintNoPublicIP)
		}
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, err, hintUnreachable)
	}
	defer out.Content.Close()

	b, err := io.ReadAll(io.LimitReader(out.Content, maxBodyBytes))
	if err != nil {
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, fmt.Errorf("read public-ipv4: %w", err), hintUnreachable)
	}
	addr, err := source.ParseAddress(string(b))
	if err != nil {
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, err, hintUnreachable)
	}
	return addr, nil
}
