package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Config represents the application configuration.
type Config struct {
	LogLevel string        `hcl:"log_level,optional"`
	Server   *ServerConfig `hcl:"server,block"`
	Client   *ClientConfig `hcl:"client,block"`
}

// ServerConfig configures the upload/query API and the web page.
type ServerConfig struct {
	Listen          string   `hcl:"listen,optional"`
	Database        string   `hcl:"database,optional"`
	MaxUploadMB     int      `hcl:"max_upload_mb,optional"`
	MaxConnections  int      `hcl:"max_connections,optional"`
	CORSOrigins     []string `hcl:"cors_origins,optional"`
	RateLimitRPS    float64  `hcl:"rate_limit_rps,optional"`
	RateLimitBurst  int      `hcl:"rate_limit_burst,optional"`
	TableMode       string   `hcl:"table_mode,optional"`
	Table           string   `hcl:"table,optional"`
	RequiredColumns []string `hcl:"required_columns,optional"`
	HiddenColumns   []string `hcl:"hidden_columns,optional"`
	BatchSize       int      `hcl:"batch_size,optional"`
	SkipBadRows     bool     `hcl:"skip_bad_rows,optional"`
	ScanTimeout     string   `hcl:"scan_timeout,optional"`
}

// ClientConfig configures the page flows and the API client.
type ClientConfig struct {
	BaseURL             string `hcl:"base_url,optional"`
	Timeout             string `hcl:"timeout,optional"`
	PageSize            int    `hcl:"page_size,optional"`
	PreserveFailedQuery bool   `hcl:"preserve_failed_query,optional"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server:   DefaultServerConfig(),
		Client:   DefaultClientConfig(),
	}
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:         ":8000",
		Database:       "claridad.db",
		MaxUploadMB:    32,
		MaxConnections: 256,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		TableMode:      "shared",
		Table:          "csv_files",
		HiddenColumns:  []string{"id"},
		ScanTimeout:    "30s",
	}
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:  "http://localhost:8000",
		Timeout:  "60s",
		PageSize: 10,
	}
}

// Load reads the configuration from the given HCL file.
// Blocks and attributes missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(content, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file: %s", diags.Error())
	}

	var raw rawConfig
	cfg := DefaultConfig()
	raw.LogLevel = cfg.LogLevel
	diags = gohcl.DecodeBody(file.Body, nil, &raw)
	if raw.Server != nil {
		diags = append(diags, gohcl.DecodeBody(raw.Server.Body, nil, cfg.Server)...)
	}
	if raw.Client != nil {
		diags = append(diags, gohcl.DecodeBody(raw.Client.Body, nil, cfg.Client)...)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config: %s", diags.Error())
	}
	cfg.LogLevel = raw.LogLevel

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// rawConfig holds the file's blocks undecoded so each one can be decoded
// over its defaults.
type rawConfig struct {
	LogLevel string    `hcl:"log_level,optional"`
	Server   *rawBlock `hcl:"server,block"`
	Client   *rawBlock `hcl:"client,block"`
}

type rawBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// Validate checks values that cannot be checked by decoding alone.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.Server != nil {
		if c.Server.TableMode != "shared" && c.Server.TableMode != "per_file" {
			return fmt.Errorf("invalid server.table_mode %q (want shared or per_file)", c.Server.TableMode)
		}
		if _, err := c.Server.ScanTimeoutDuration(); err != nil {
			return err
		}
		if c.Server.MaxUploadMB < 0 || c.Server.BatchSize < 0 {
			return fmt.Errorf("server.max_upload_mb and server.batch_size must not be negative")
		}
	}
	if c.Client != nil {
		if _, err := c.Client.TimeoutDuration(); err != nil {
			return err
		}
		if c.Client.PageSize < 0 {
			return fmt.Errorf("client.page_size must not be negative")
		}
	}
	return nil
}

// ScanTimeoutDuration parses ScanTimeout. An empty value disables the timeout.
func (s *ServerConfig) ScanTimeoutDuration() (time.Duration, error) {
	return parseDuration("server.scan_timeout", s.ScanTimeout)
}

// MaxUploadBytes returns the upload limit in bytes.
func (s *ServerConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// TimeoutDuration parses Timeout. An empty value means no client timeout.
func (c *ClientConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("client.timeout", c.Timeout)
}

func parseDuration(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

// Export writes the configuration to the specified file in HCL format.
func Export(path string, cfg *Config) error {
	f := hclwrite.NewEmptyFile()
	root := f.Body()

	root.SetAttributeValue("log_level", cty.StringVal(cfg.LogLevel))

	if s := cfg.Server; s != nil {
		root.AppendNewline()
		b := root.AppendNewBlock("server", nil).Body()
		b.SetAttributeValue("listen", cty.StringVal(s.Listen))
		b.SetAttributeValue("database", cty.StringVal(s.Database))
		b.SetAttributeValue("max_upload_mb", cty.NumberIntVal(int64(s.MaxUploadMB)))
		b.SetAttributeValue("max_connections", cty.NumberIntVal(int64(s.MaxConnections)))
		b.SetAttributeValue("cors_origins", stringList(s.CORSOrigins))
		b.SetAttributeValue("rate_limit_rps", cty.NumberFloatVal(s.RateLimitRPS))
		b.SetAttributeValue("rate_limit_burst", cty.NumberIntVal(int64(s.RateLimitBurst)))
		b.SetAttributeValue("table_mode", cty.StringVal(s.TableMode))
		b.SetAttributeValue("table", cty.StringVal(s.Table))
		b.SetAttributeValue("required_columns", stringList(s.RequiredColumns))
		b.SetAttributeValue("hidden_columns", stringList(s.HiddenColumns))
		b.SetAttributeValue("batch_size", cty.NumberIntVal(int64(s.BatchSize)))
		b.SetAttributeValue("skip_bad_rows", cty.BoolVal(s.SkipBadRows))
		b.SetAttributeValue("scan_timeout", cty.StringVal(s.ScanTimeout))
	}

	if c := cfg.Client; c != nil {
		root.AppendNewline()
		b := root.AppendNewBlock("client", nil).Body()
		b.SetAttributeValue("base_url", cty.StringVal(c.BaseURL))
		b.SetAttributeValue("timeout", cty.StringVal(c.Timeout))
		b.SetAttributeValue("page_size", cty.NumberIntVal(int64(c.PageSize)))
		b.SetAttributeValue("preserve_failed_query", cty.BoolVal(c.PreserveFailedQuery))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	_, err = file.Write(f.Bytes())
	if err != nil {
		return fmt.Errorf("failed to write config to file: %w", err)
	}

	return nil
}

func stringList(vals []string) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	items := make([]cty.Value, len(vals))
	for i, v := range vals {
		items[i] = cty.StringVal(v)
	}
	return cty.ListVal(items)
}
