// Package config loads the blockgate TOML file. Keys missing from the file
// keep their defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/blockgate/internal/cluster"
	"github.com/danmuck/blockgate/internal/compress"
	"github.com/danmuck/blockgate/internal/logging"
	"github.com/danmuck/blockgate/internal/protocol/frame"
	"github.com/danmuck/blockgate/internal/sink"
)

const (
	DefaultListenAddr       = ":25565"
	DefaultAdminAddr        = "127.0.0.1:7070"
	DefaultClusterURL       = "nats://127.0.0.1:4222"
	DefaultSubjectPrefix    = "blockgate"
	DefaultConnectTimeout   = 5 * time.Second
	DefaultThreshold        = 256
	DefaultReapInterval     = 5 * time.Second
	DefaultCompressionCodec = compress.NameZlib
)

type Config struct {
	NodeName    string
	ListenAddr  string
	AdminAddr   string
	CorsOrigins []string
	LogLevel    string
	Cluster     ClusterConfig
	Compression CompressionConfig
	Sink        SinkConfig
}

type ClusterConfig struct {
	URL            string
	Name           string
	SubjectPrefix  string
	MaxRetries      int
	RetryDelay      time.Duration
	RetryMultiplier float64
	RetryMaxDelay   time.Duration
	RetryJitter     bool
	ConnectTimeout  time.Duration
}

// CompressionConfig.Threshold of frame.NoCompression disables compression.
type CompressionConfig struct {
	Threshold int
	Codec     string
}

type SinkConfig struct {
	IdleGrace    time.Duration
	ReapInterval time.Duration
	MailboxSize  int
}

func Default() Config {
	return Config{
		NodeName:   "blockgate",
		ListenAddr: DefaultListenAddr,
		AdminAddr:  DefaultAdminAddr,
		Cluster: ClusterConfig{
			URL:             DefaultClusterURL,
			Name:            "blockgate",
			SubjectPrefix:   DefaultSubjectPrefix,
			MaxRetries:      cluster.DefaultMaxRetries,
			RetryDelay:      cluster.DefaultRetryDelay,
			RetryMultiplier: 1,
			ConnectTimeout:  DefaultConnectTimeout,
		},
		Compression: CompressionConfig{
			Threshold: DefaultThreshold,
			Codec:     DefaultCompressionCodec,
		},
		Sink: SinkConfig{
			IdleGrace:    sink.DefaultIdleGrace,
			ReapInterval: DefaultReapInterval,
			MailboxSize:  sink.DefaultMailboxSize,
		},
	}
}

type fileConfig struct {
	NodeName    string          `toml:"node_name"`
	ListenAddr  string          `toml:"listen_addr"`
	AdminAddr   string          `toml:"admin_addr"`
	CorsOrigins []string        `toml:"cors_origins"`
	LogLevel    string          `toml:"log_level"`
	Cluster     fileCluster     `toml:"cluster"`
	Compression fileCompression `toml:"compression"`
	Sink        fileSink        `toml:"sink"`
}

type fileCluster struct {
	URL             string  `toml:"url"`
	Name            string  `toml:"name"`
	SubjectPrefix   string  `toml:"subject_prefix"`
	MaxRetries      int     `toml:"max_retries"`
	RetryDelay      string  `toml:"retry_delay"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	RetryMaxDelay   string  `toml:"retry_max_delay"`
	RetryJitter     bool    `toml:"retry_jitter"`
	ConnectTimeout  string  `toml:"connect_timeout"`
}

type fileCompression struct {
	Threshold int    `toml:"threshold"`
	Codec     string `toml:"codec"`
}

type fileSink struct {
	IdleGrace    string `toml:"idle_grace"`
	ReapInterval string `toml:"reap_interval"`
	MailboxSize  int    `toml:"mailbox_size"`
}

// Load reads and validates the config at path.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config (%s): %w", path, err)
	}
	return build(raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return build(raw, meta)
}

func build(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg := Default()
	setString(meta, &cfg.NodeName, raw.NodeName, "node_name")
	setString(meta, &cfg.ListenAddr, raw.ListenAddr, "listen_addr")
	setString(meta, &cfg.AdminAddr, raw.AdminAddr, "admin_addr")
	setString(meta, &cfg.LogLevel, raw.LogLevel, "log_level")
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}

	setString(meta, &cfg.Cluster.URL, raw.Cluster.URL, "cluster", "url")
	setString(meta, &cfg.Cluster.Name, raw.Cluster.Name, "cluster", "name")
	setString(meta, &cfg.Cluster.SubjectPrefix, raw.Cluster.SubjectPrefix, "cluster", "subject_prefix")
	if meta.IsDefined("cluster", "max_retries") {
		cfg.Cluster.MaxRetries = raw.Cluster.MaxRetries
	}
	if meta.IsDefined("cluster", "retry_multiplier") {
		cfg.Cluster.RetryMultiplier = raw.Cluster.RetryMultiplier
	}
	if meta.IsDefined("cluster", "retry_jitter") {
		cfg.Cluster.RetryJitter = raw.Cluster.RetryJitter
	}

	if meta.IsDefined("compression", "threshold") {
		cfg.Compression.Threshold = raw.Compression.Threshold
	}
	setString(meta, &cfg.Compression.Codec, raw.Compression.Codec, "compression", "codec")
	if meta.IsDefined("sink", "mailbox_size") {
		cfg.Sink.MailboxSize = raw.Sink.MailboxSize
	}

	durations := []struct {
		dst  *time.Duration
		raw  string
		keys []string
	}{
		{&cfg.Cluster.RetryDelay, raw.Cluster.RetryDelay, []string{"cluster", "retry_delay"}},
		{&cfg.Cluster.RetryMaxDelay, raw.Cluster.RetryMaxDelay, []string{"cluster", "retry_max_delay"}},
		{&cfg.Cluster.ConnectTimeout, raw.Cluster.ConnectTimeout, []string{"cluster", "connect_timeout"}},
		{&cfg.Sink.IdleGrace, raw.Sink.IdleGrace, []string{"sink", "idle_grace"}},
		{&cfg.Sink.ReapInterval, raw.Sink.ReapInterval, []string{"sink", "reap_interval"}},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.keys...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.keys, "."), err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setString(meta toml.MetaData, dst *string, v string, keys ...string) {
	if !meta.IsDefined(keys...) {
		return
	}
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			errs = append(errs, fmt.Errorf("log_level %q is not a known level", c.LogLevel))
		}
	}
	if strings.TrimSpace(c.Cluster.URL) == "" {
		errs = append(errs, errors.New("cluster.url is required"))
	}
	if strings.ContainsAny(c.Cluster.SubjectPrefix, " .*>") || c.Cluster.SubjectPrefix == "" {
		errs = append(errs, fmt.Errorf("cluster.subject_prefix %q must be a single subject token", c.Cluster.SubjectPrefix))
	}
	if c.Cluster.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("cluster.max_retries must be >= 0, got %d", c.Cluster.MaxRetries))
	}
	if c.Cluster.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("cluster.retry_delay must be >= 0, got %s", c.Cluster.RetryDelay))
	}
	if c.Cluster.RetryMultiplier < 1 {
		errs = append(errs, fmt.Errorf("cluster.retry_multiplier must be >= 1, got %g", c.Cluster.RetryMultiplier))
	}
	if c.Cluster.RetryMaxDelay < 0 {
		errs = append(errs, fmt.Errorf("cluster.retry_max_delay must be >= 0, got %s", c.Cluster.RetryMaxDelay))
	}
	if c.Cluster.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("cluster.connect_timeout must be > 0, got %s", c.Cluster.ConnectTimeout))
	}
	if c.Compression.Threshold < frame.NoCompression || c.Compression.Threshold > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("compression.threshold must be in [%d, %d], got %d", frame.NoCompression, math.MaxInt32, c.Compression.Threshold))
	}
	if _, err := compress.Lookup(c.Compression.Codec); err != nil {
		errs = append(errs, fmt.Errorf("compression.codec: %w (known: %s)", err, strings.Join(compress.Names(), ", ")))
	}
	if c.Sink.IdleGrace <= 0 {
		errs = append(errs, fmt.Errorf("sink.idle_grace must be > 0, got %s", c.Sink.IdleGrace))
	}
	if c.Sink.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("sink.reap_interval must be > 0, got %s", c.Sink.ReapInterval))
	}
	if c.Sink.MailboxSize < 0 {
		errs = append(errs, fmt.Errorf("sink.mailbox_size must be >= 0, got %d", c.Sink.MailboxSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ClusterSupervisor maps the cluster section onto the join supervisor.
func (c Config) ClusterSupervisor() cluster.Config {
	return cluster.Config{
		MaxRetries: c.Cluster.MaxRetries,
		RetryDelay: c.Cluster.RetryDelay,
		Multiplier: c.Cluster.RetryMultiplier,
		MaxDelay:   c.Cluster.RetryMaxDelay,
		Jitter:     c.Cluster.RetryJitter,
	}
}

func (c Config) Directory() sink.DirectoryConfig {
	return sink.DirectoryConfig{
		IdleGrace:   c.Sink.IdleGrace,
		MailboxSize: c.Sink.MailboxSize,
	}
}
