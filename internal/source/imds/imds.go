// Package imds reads the public IPv4 address of an EC2 instance from the
// instance metadata service using IMDSv2 session tokens.
package imds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
	"github.com/evanofslack/ec2-dns-sync/internal/source"
)

const (
	DefaultEndpoint = "http://169.254.169.254"
	DefaultTimeout  = 5 * time.Second
	DefaultTokenTTL = 6 * time.Hour

	tokenPath    = "/latest/api/token"
	addressPath  = "/latest/meta-data/public-ipv4"
	tokenHeader  = "X-aws-ec2-metadata-token"
	ttlHeader    = "X-aws-ec2-metadata-token-ttl-seconds"
	disabledEnv  = "AWS_EC2_METADATA_DISABLED"
	maxBodyBytes = 1 << 12

	hintUnreachable = "not running on EC2 or network issue"
	hintNoPublicIP  = "the instance has no public IPv4 address attached, or " + hintUnreachable
	hintDisabled    = "unset " + disabledEnv + " to allow metadata access"
)

type Httper interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	Endpoint string
	// Timeout applies to each of the two metadata calls.
	Timeout  time.Duration
	TokenTTL time.Duration
	HTTP     Httper
}

func (o *Options) setDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	o.Endpoint = strings.TrimSuffix(o.Endpoint, "/")
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = DefaultTokenTTL
	}
	if o.HTTP == nil {
		o.HTTP = cleanhttp.DefaultClient()
	}
}

type client struct {
	opts Options
}

// New returns a source doing exactly one token request and one address
// request per call, without retries.
func New(opts Options) source.Source {
	opts.setDefaults()
	return &client{opts: opts}
}

func (c *client) Name() string {
	return "imds"
}

func (c *client) Address(ctx context.Context) (netip.Addr, error) {
	const op = "detect public address"
	if err := checkEnabled(op); err != nil {
		return netip.Addr{}, err
	}

	token, err := c.token(ctx)
	if err != nil {
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, err, hintUnreachable)
	}
	if token == "" {
		return netip.Addr{}, errdefs.Newf(errdefs.KindDetection, op, hintUnreachable, "metadata service returned an empty token")
	}
	slog.Debug("Got metadata session token", "ttl", c.opts.TokenTTL)

	body, status, err := c.do(ctx, http.MethodGet, addressPath, map[string]string{tokenHeader: token})
	if err != nil {
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, fmt.Errorf("fetch public-ipv4: %w", err), hintUnreachable)
	}
	switch {
	case status == http.StatusNotFound:
		return netip.Addr{}, errdefs.Newf(errdefs.KindDetection, op, hintNoPublicIP, "public-ipv4 not found, status=%d", status)
	case status != http.StatusOK:
		return netip.Addr{}, errdefs.Newf(errdefs.KindDetection, op, hintUnreachable, "fetch public-ipv4, status=%d", status)
	}

	addr, err := source.ParseAddress(body)
	if err != nil {
		return netip.Addr{}, errdefs.New(errdefs.KindDetection, op, err, hintUnreachable)
	}
	return addr, nil
}

func (c *client) token(ctx context.Context) (string, error) {
	ttl := strconv.Itoa(int(c.opts.TokenTTL / time.Second))
	body, status, err := c.do(ctx, http.MethodPut, tokenPath, map[string]string{ttlHeader: ttl})
	if err != nil {
		return "", fmt.Errorf("request metadata token: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("request metadata token, status=%d", status)
	}
	return strings.TrimSpace(body), nil
}

func (c *client) do(ctx context.Context, method, path string, headers map[string]string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.opts.Endpoint+path, nil)
	if err != nil {
		return "", 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.opts.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", 0, fmt.Errorf("timed out after %s: %w", c.opts.Timeout, err)
		}
		return "", 0, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return string(b), resp.StatusCode, nil
}

func checkEnabled(op string) error {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(disabledEnv)), "true") {
		return errdefs.Newf(errdefs.KindEnvironment, op, hintDisabled, "instance metadata access disabled by %s", disabledEnv)
	}
	return nil
}
