package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/evanofslack/ec2-dns-sync/internal/errdefs"
)

const (
	DefaultPath = "config.yaml"

	defaultLogLevel       = "info"
	defaultLogEnv         = "prod"
	defaultSourceMode     = SourceIMDS
	defaultIMDSEndpoint   = "http://169.254.169.254"
	defaultSourceTimeout  = 5 * time.Second
	defaultTokenTTL       = 6 * time.Hour
	defaultProvider       = ProviderAliDNS
	defaultRR             = "@"
	defaultRecordType     = "A"
	defaultTTL            = 600
	defaultDNSTimeout     = 10 * time.Second
	defaultMetricsAddress = ":9090"
	defaultDNSPodRegion   = "ap-guangzhou"
)

const (
	SourceIMDS   = "imds"
	SourceAWSSDK = "aws-sdk"
	SourceStatic = "static"

	ProviderAliDNS     = "alidns"
	ProviderDNSPod     = "dnspod"
	ProviderCloudflare = "cloudflare"
)

type Config struct {
	SyncInterval time.Duration `yaml:"syncInterval"`
	StatePath    string        `yaml:"statePath"`
	Log          Log           `yaml:"log"`
	Source       Source        `yaml:"source"`
	DNS          DNS           `yaml:"dns"`
	Reconcile    Reconcile     `yaml:"reconcile"`
	Metrics      Metrics       `yaml:"metrics"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Source struct {
	Mode     string        `yaml:"mode"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	TokenTTL time.Duration `yaml:"tokenTTL"`
	// Address is only used by the static source.
	Address string `yaml:"address"`
}

type DNS struct {
	Provider string        `yaml:"provider"`
	Domain   string        `yaml:"domain"`
	RR       string        `yaml:"rr"`
	Type     string        `yaml:"type"`
	TTL      int           `yaml:"ttl"`
	ZoneID   string        `yaml:"zoneId"`
	Endpoint string        `yaml:"endpoint"`
	Region   string        `yaml:"region"`
	Timeout  time.Duration `yaml:"timeout"`

	// Credentials never come from the config file.
	KeyID  string `yaml:"-"`
	Secret string `yaml:"-"`
	Token  string `yaml:"-"`
}

type Reconcile struct {
	DryRun bool `yaml:"dryRun"`
}

type Metrics struct {
	Address  string `yaml:"address"`
	Textfile string `yaml:"textfile"`
}

// env lists every environment override. Pointer fields stay nil when the
// variable is unset so file values survive.
type env struct {
	SyncInterval   *time.Duration `envconfig:"EC2_DNS_SYNC_INTERVAL"`
	StatePath      *string        `envconfig:"EC2_DNS_SYNC_STATE_PATH"`
	LogLevel       *string        `envconfig:"EC2_DNS_SYNC_LOG_LEVEL"`
	LogEnv         *string        `envconfig:"EC2_DNS_SYNC_LOG_ENV"`
	SourceMode     *string        `envconfig:"EC2_DNS_SYNC_SOURCE_MODE"`
	SourceEndpoint *string        `envconfig:"EC2_DNS_SYNC_SOURCE_ENDPOINT"`
	SourceAddress  *string        `envconfig:"EC2_DNS_SYNC_SOURCE_ADDRESS"`
	Provider       *string        `envconfig:"EC2_DNS_SYNC_PROVIDER"`
	Domain         *string        `envconfig:"EC2_DNS_SYNC_DOMAIN"`
	RR             *string        `envconfig:"EC2_DNS_SYNC_RR"`
	TTL            *int           `envconfig:"EC2_DNS_SYNC_TTL"`
	ZoneID         *string        `envconfig:"EC2_DNS_SYNC_ZONE_ID"`
	DryRun         *bool          `envconfig:"EC2_DNS_SYNC_DRYRUN"`
	MetricsAddress *string        `envconfig:"EC2_DNS_SYNC_METRICS_ADDRESS"`
	MetricsFile    *string        `envconfig:"EC2_DNS_SYNC_METRICS_TEXTFILE"`

	AliyunKeyID     string `envconfig:"ALIYUN_ACCESS_KEY_ID"`
	AliyunKeySecret string `envconfig:"ALIYUN_ACCESS_KEY_SECRET"`
	DNSPodSecretID  string `envconfig:"DNSPOD_SECRET_ID"`
	DNSPodSecretKey string `envconfig:"DNSPOD_SECRET_KEY"`
	CloudflareToken string `envconfig:"CLOUDFLARE_API_TOKEN"`
}

// Path returns the config file location, overridable with EC2_DNS_SYNC_CONFIG.
func Path() string {
	if p := os.Getenv("EC2_DNS_SYNC_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// LoadDotenv loads a .env file into the process environment if one exists.
// Variables that are already set win.
func LoadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Default().Debug("Loaded environment file", "path", path)
	return nil
}

func Load(path string) (*Config, error) {
	configFile := true
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("fail find config file, proceeding", "path", path)
		configFile = false
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			f.Close()
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	if e.SyncInterval != nil {
		c.SyncInterval = *e.SyncInterval
	}
	setString(&c.StatePath, e.StatePath)
	setString(&c.Log.Level, e.LogLevel)
	setString(&c.Log.Env, e.LogEnv)
	setString(&c.Source.Mode, e.SourceMode)
	setString(&c.Source.Endpoint, e.SourceEndpoint)
	setString(&c.Source.Address, e.SourceAddress)
	setString(&c.DNS.Provider, e.Provider)
	setString(&c.DNS.Domain, e.Domain)
	setString(&c.DNS.RR, e.RR)
	setString(&c.DNS.ZoneID, e.ZoneID)
	setString(&c.Metrics.Address, e.MetricsAddress)
	setString(&c.Metrics.Textfile, e.MetricsFile)
	if e.TTL != nil {
		c.DNS.TTL = *e.TTL
	}
	if e.DryRun != nil {
		c.Reconcile.DryRun = *e.DryRun
	}

	switch strings.ToLower(c.DNS.Provider) {
	case ProviderDNSPod:
		c.DNS.KeyID, c.DNS.Secret = e.DNSPodSecretID, e.DNSPodSecretKey
	case ProviderCloudflare:
		c.DNS.Token = e.CloudflareToken
	default:
		c.DNS.KeyID, c.DNS.Secret = e.AliyunKeyID, e.AliyunKeySecret
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Env == "" {
		c.Log.Env = defaultLogEnv
	}

	if c.Source.Mode == "" {
		c.Source.Mode = defaultSourceMode
	}
	c.Source.Mode = strings.ToLower(c.Source.Mode)
	if c.Source.Endpoint == "" {
		c.Source.Endpoint = defaultIMDSEndpoint
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = defaultSourceTimeout
	}
	if c.Source.TokenTTL == 0 {
		c.Source.TokenTTL = defaultTokenTTL
	}

	if c.DNS.Provider == "" {
		c.DNS.Provider = defaultProvider
	}
	c.DNS.Provider = strings.ToLower(c.DNS.Provider)
	if c.DNS.RR == "" {
		c.DNS.RR = defaultRR
	}
	if c.DNS.Type == "" {
		c.DNS.Type = defaultRecordType
	}
	c.DNS.Type = strings.ToUpper(c.DNS.Type)
	if c.DNS.TTL == 0 {
		c.DNS.TTL = defaultTTL
	}
	if c.DNS.Timeout == 0 {
		c.DNS.Timeout = defaultDNSTimeout
	}
	if c.DNS.Region == "" && c.DNS.Provider == ProviderDNSPod {
		c.DNS.Region = defaultDNSPodRegion
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddress
	}
}

// HasCredentials reports whether the credentials the selected provider needs
// are present.
func (d DNS) HasCredentials() bool {
	if d.Provider == ProviderCloudflare {
		return d.Token != ""
	}
	return d.KeyID != "" && d.Secret != ""
}

// FQDN is the absolute name of the managed record.
func (d DNS) FQDN() string {
	if d.RR == "" || d.RR == "@" {
		return d.Domain
	}
	return d.RR + "." + d.Domain
}

func (c *Config) Validate() error {
	const op = "validate config"

	switch c.Source.Mode {
	case SourceIMDS, SourceAWSSDK:
	case SourceStatic:
		if c.Source.Address == "" {
			return errdefs.Newf(errdefs.KindConfig, op, "set source.address or EC2_DNS_SYNC_SOURCE_ADDRESS", "static source requires an address")
		}
	default:
		return errdefs.Newf(errdefs.KindConfig, op, "use one of imds, aws-sdk, static", "unknown source mode %q", c.Source.Mode)
	}

	switch c.DNS.Provider {
	case ProviderAliDNS, ProviderDNSPod, ProviderCloudflare:
	default:
		return errdefs.Newf(errdefs.KindConfig, op, "use one of alidns, dnspod, cloudflare", "unsupported provider %q", c.DNS.Provider)
	}
	if c.DNS.Domain == "" {
		return errdefs.Newf(errdefs.KindConfig, op, "set dns.domain or EC2_DNS_SYNC_DOMAIN", "domain is required")
	}
	if c.DNS.Type != "A" {
		return errdefs.Newf(errdefs.KindConfig, op, "only IPv4 A records are managed", "unsupported record type %q", c.DNS.Type)
	}
	if c.DNS.TTL < 0 {
		return errdefs.Newf(errdefs.KindConfig, op, "", "ttl must be positive, got %d", c.DNS.TTL)
	}
	if !c.DNS.HasCredentials() {
		return errdefs.Newf(errdefs.KindConfig, op, credentialHint(c.DNS.Provider), "missing credentials for provider %s", c.DNS.Provider)
	}
	if c.SyncInterval < 0 {
		return errdefs.Newf(errdefs.KindConfig, op, "", "syncInterval must not be negative")
	}
	return nil
}

func credentialHint(provider string) string {
	switch provider {
	case ProviderDNSPod:
		return "set DNSPOD_SECRET_ID and DNSPOD_SECRET_KEY"
	case ProviderCloudflare:
		return "set CLOUDFLARE_API_TOKEN"
	default:
		return "set ALIYUN_ACCESS_KEY_ID and ALIYUN_ACCESS_KEY_SECRET"
	}
}
