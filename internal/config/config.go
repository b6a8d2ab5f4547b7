package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"fleetpulse/internal/domain"
	"fleetpulse/internal/templatefmt"
	"fleetpulse/internal/timewindow"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName       = "fleetpulse"
	defaultAPIListen         = ":8080"
	defaultHealthPath        = "/healthz"
	defaultReadyPath         = "/readyz"
	defaultMaxBodyBytes      = 1 << 20
	defaultMaxOpenConns      = 10
	defaultMaxIdleConns      = 5
	defaultConnMaxLifetime   = 300
	defaultCacheTTLSec       = 60
	defaultCacheKeyPrefix    = "fleetpulse"
	defaultRedisAddr         = "127.0.0.1:6379"
	defaultNATSURL           = "nats://127.0.0.1:4222"
	defaultSubjectPrefix     = "fleetpulse.changes"
	defaultChannelPrefix     = "fleetpulse"
	defaultRefreshSec        = 30
	defaultPeriod            = "24h"
	defaultSLACriticalSec    = 3600
	defaultSLADefaultSec     = 14400
	defaultSLAWarningSec     = 1800
	defaultSLATickSec        = 15
	defaultCriticalRatio     = 0.85
	defaultInboxSize         = 100
	defaultQueueSize         = 256
	defaultRetryMaxAttempts  = 5
	defaultWebhookTimeoutSec = 10
)

const (
	// StoreDriverMemory keeps rows in process memory.
	StoreDriverMemory = "memory"
	// StoreDriverPostgres uses a PostgreSQL database.
	StoreDriverPostgres = "postgres"
	// CacheDriverMemory caches query results in process memory.
	CacheDriverMemory = "memory"
	// CacheDriverRedis caches query results in Redis.
	CacheDriverRedis = "redis"
	// RealtimeDriverMemory delivers change notifications in process.
	RealtimeDriverMemory = "memory"
	// RealtimeDriverNATS delivers change notifications over NATS subjects.
	RealtimeDriverNATS = "nats"
	// RealtimeDriverPostgres listens to PostgreSQL NOTIFY channels.
	RealtimeDriverPostgres = "postgres"
)

var (
	legacyRuleSectionPattern = regexp.MustCompile(`(?m)^\s*\[\[?rule[\].]`)
	unsupportedStatePattern  = regexp.MustCompile(`(?m)^\s*\[state(?:\.|\])`)
)

// Config is one validated runtime snapshot.
// Params: sections decoded from TOML.
// Returns: configuration consumed by app composition.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Log       LogConfig       `toml:"log"`
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	Cache     CacheConfig     `toml:"cache"`
	Realtime  RealtimeConfig  `toml:"realtime"`
	Refresh   RefreshConfig   `toml:"refresh"`
	SLA       SLAConfig       `toml:"sla"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Notify    NotifyConfig    `toml:"notify"`
}

// ServiceConfig holds process identity.
type ServiceConfig struct {
	Name string `toml:"name"`
}

// APIConfig defines HTTP API listener settings.
// Params: listen address, probe paths and request body limit.
// Returns: HTTP server options.
type APIConfig struct {
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// StoreConfig selects the row store backend.
// Params: driver name, DSN and pool limits.
// Returns: store options.
type StoreConfig struct {
	Driver             string `toml:"driver"`
	DSN                string `toml:"dsn"`
	MaxOpenConns       int    `toml:"max_open_conns"`
	MaxIdleConns       int    `toml:"max_idle_conns"`
	ConnMaxLifetimeSec int    `toml:"conn_max_lifetime_sec"`
	Migrate            bool   `toml:"migrate"`
}

// CacheConfig selects the query cache backend.
// Params: driver, redis connection, entry TTL and key prefix.
// Returns: cache options.
type CacheConfig struct {
	Driver    string `toml:"driver"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	TTLSec    int    `toml:"ttl_sec"`
	KeyPrefix string `toml:"key_prefix"`
}

// RealtimeConfig selects the change feed and watched tables.
// Params: driver, NATS urls and subject prefix, PostgreSQL channel prefix, tables.
// Returns: change feed options.
type RealtimeConfig struct {
	Driver        string   `toml:"driver"`
	NATSURL       []string `toml:"nats_url"`
	SubjectPrefix string   `toml:"subject_prefix"`
	ChannelPrefix string   `toml:"channel_prefix"`
	Tables        []string `toml:"tables"`
}

// RefreshConfig holds auto refresh cadence and the default dashboard period.
type RefreshConfig struct {
	IntervalSec   int    `toml:"interval_sec"`
	DefaultPeriod string `toml:"default_period"`
}

// SLAConfig defines response deadlines in seconds.
// Params: deadline for critical alerts, deadline for the rest, warning margin and tick.
// Returns: SLA policy inputs.
type SLAConfig struct {
	CriticalSec int `toml:"critical_sec"`
	DefaultSec  int `toml:"default_sec"`
	WarningSec  int `toml:"warning_sec"`
	TickSec     int `toml:"tick_sec"`
}

// TelemetryConfig controls derived critical-pressure events.
type TelemetryConfig struct {
	CriticalRatio float64 `toml:"critical_ratio"`
}

// NotifyConfig defines user-facing notification sinks.
// Params: inbox capacity, delivery queue capacity, log sink toggle and webhook sink settings.
// Returns: notification controls.
type NotifyConfig struct {
	InboxSize int           `toml:"inbox_size"`
	QueueSize int           `toml:"queue_size"`
	Log       LogNotifier   `toml:"log"`
	Webhook   WebhookConfig `toml:"webhook"`
}

// LogNotifier toggles writing notifications to the service log.
type LogNotifier struct {
	Enabled bool `toml:"enabled"`
}

// WebhookConfig defines outbound webhook delivery.
// Params: endpoint, timeout, headers, optional text template and retry policy.
// Returns: webhook sink options.
type WebhookConfig struct {
	Enabled    bool              `toml:"enabled"`
	URL        string            `toml:"url"`
	TimeoutSec int               `toml:"timeout_sec"`
	Headers    map[string]string `toml:"headers"`
	Template   string            `toml:"template"`
	Retry      NotifyRetry       `toml:"retry"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// LogConfig defines application logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// ConfigSource describes where runtime configuration is loaded from.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns a validated single-process configuration without any file.
// Params: none.
// Returns: defaults for memory store, memory cache and memory feed.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// RefreshInterval returns auto refresh period.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalSec) * time.Second
}

// CacheTTL returns cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// SLATick returns the quantization step of SLA classification.
func (c Config) SLATick() time.Duration {
	return time.Duration(c.SLA.TickSec) * time.Second
}

// WatchedTables returns realtime tables as domain values.
// Params: none.
// Returns: table list in configured order.
func (c Config) WatchedTables() []domain.Table {
	out := make([]domain.Table, 0, len(c.Realtime.Tables))
	for _, table := range c.Realtime.Tables {
		out = append(out, domain.Table(NormalizeName(table)))
	}
	return out
}

// configMergeHints carries explicit bool-presence markers used for directory overlays.
// Params: sparse fields decoded from one TOML fragment.
// Returns: merge behavior hints for zero-value bool overrides.
type configMergeHints struct {
	Store  storeMergeHints  `toml:"store"`
	Notify notifyMergeHints `toml:"notify"`
}

type storeMergeHints struct {
	Migrate *bool `toml:"migrate"`
}

// notifyMergeHints tracks explicit bool fields in notify section.
// Params: sparse notify values decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type notifyMergeHints struct {
	Log     channelMergeHints `toml:"log"`
	Webhook channelMergeHints `toml:"webhook"`
}

// channelMergeHints tracks explicit enabled flags in sink sections.
type channelMergeHints struct {
	Enabled *bool `toml:"enabled"`
}

// rejectUnsupportedSyntax checks forbidden TOML sections and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyRuleSectionPattern.Match(body) {
		return errors.New("rule sections are not supported; alerts are raised upstream and only triaged here")
	}
	if unsupportedStatePattern.Match(body) {
		return errors.New("state configuration is not supported; use [store]")
	}
	return nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	cfg, _, err := loadFileForMerge(path)
	return cfg, err
}

// loadFileForMerge reads one TOML file with merge hints.
// Params: file path to config fragment.
// Returns: decoded config plus explicit-bool hints for overlay merge.
func loadFileForMerge(path string) (Config, configMergeHints, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var hints configMergeHints
	if err := toml.Unmarshal(body, &hints); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode merge hints %q: %w", path, err)
	}
	return cfg, hints, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.ToLower(filepath.Ext(name)) != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, hints, err := loadFileForMerge(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment, hints)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config, hints configMergeHints) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if src.API != (APIConfig{}) {
		dst.API = src.API
	}
	if src.Store != (StoreConfig{}) || hints.Store.Migrate != nil {
		dst.Store = src.Store
	}
	if src.Cache != (CacheConfig{}) {
		dst.Cache = src.Cache
	}
	if hasRealtimeConfig(src.Realtime) {
		dst.Realtime = src.Realtime
	}
	if src.Refresh != (RefreshConfig{}) {
		dst.Refresh = src.Refresh
	}
	if src.SLA != (SLAConfig{}) {
		dst.SLA = src.SLA
	}
	if src.Telemetry != (TelemetryConfig{}) {
		dst.Telemetry = src.Telemetry
	}
	mergeNotifyConfig(&dst.Notify, src.Notify, hints.Notify)
}

// mergeNotifyConfig overlays notify fragment into destination preserving existing sibling fields.
// Params: destination notify config and fragment from one source file.
// Returns: merged notify configuration side-effect in dst.
func mergeNotifyConfig(dst *NotifyConfig, src NotifyConfig, hints notifyMergeHints) {
	if src.InboxSize != 0 {
		dst.InboxSize = src.InboxSize
	}
	if src.QueueSize != 0 {
		dst.QueueSize = src.QueueSize
	}
	applyBoolMerge(&dst.Log.Enabled, src.Log.Enabled, hints.Log.Enabled)
	if !hasWebhookConfig(src.Webhook) && hints.Webhook.Enabled == nil {
		return
	}
	enabled := dst.Webhook.Enabled
	dst.Webhook = src.Webhook
	dst.Webhook.Enabled = enabled
	applyBoolMerge(&dst.Webhook.Enabled, src.Webhook.Enabled, hints.Webhook.Enabled)
}

// applyBoolMerge applies bool override only when value was explicitly set or true.
// Params: destination flag, decoded value and explicit presence marker.
// Returns: destination side-effect.
func applyBoolMerge(dst *bool, value bool, explicit *bool) {
	if explicit != nil {
		*dst = *explicit
		return
	}
	if value {
		*dst = true
	}
}

func hasRealtimeConfig(cfg RealtimeConfig) bool {
	return cfg.Driver != "" ||
		len(cfg.NATSURL) > 0 ||
		cfg.SubjectPrefix != "" ||
		cfg.ChannelPrefix != "" ||
		len(cfg.Tables) > 0
}

func hasWebhookConfig(cfg WebhookConfig) bool {
	return cfg.Enabled ||
		cfg.URL != "" ||
		cfg.TimeoutSec != 0 ||
		len(cfg.Headers) > 0 ||
		cfg.Template != "" ||
		cfg.Retry != (NotifyRetry{})
}

// applyDefaults fills omitted values.
// Params: decoded config to mutate.
// Returns: none.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.API.Listen) == "" {
		cfg.API.Listen = defaultAPIListen
	}
	if strings.TrimSpace(cfg.API.HealthPath) == "" {
		cfg.API.HealthPath = defaultHealthPath
	}
	if strings.TrimSpace(cfg.API.ReadyPath) == "" {
		cfg.API.ReadyPath = defaultReadyPath
	}
	if cfg.API.MaxBodyBytes <= 0 {
		cfg.API.MaxBodyBytes = defaultMaxBodyBytes
	}

	cfg.Store.Driver = NormalizeName(cfg.Store.Driver)
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverMemory
	}
	if cfg.Store.MaxOpenConns <= 0 {
		cfg.Store.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Store.MaxIdleConns <= 0 {
		cfg.Store.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.Store.ConnMaxLifetimeSec <= 0 {
		cfg.Store.ConnMaxLifetimeSec = defaultConnMaxLifetime
	}

	cfg.Cache.Driver = NormalizeName(cfg.Cache.Driver)
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = CacheDriverMemory
	}
	if cfg.Cache.Driver == CacheDriverRedis && strings.TrimSpace(cfg.Cache.Addr) == "" {
		cfg.Cache.Addr = defaultRedisAddr
	}
	if cfg.Cache.TTLSec <= 0 {
		cfg.Cache.TTLSec = defaultCacheTTLSec
	}
	if strings.TrimSpace(cfg.Cache.KeyPrefix) == "" {
		cfg.Cache.KeyPrefix = defaultCacheKeyPrefix
	}

	cfg.Realtime.Driver = NormalizeName(cfg.Realtime.Driver)
	if cfg.Realtime.Driver == "" {
		cfg.Realtime.Driver = RealtimeDriverMemory
	}
	cfg.Realtime.NATSURL = normalizeNATSURLs(cfg.Realtime.NATSURL)
	if cfg.Realtime.Driver == RealtimeDriverNATS && len(cfg.Realtime.NATSURL) == 0 {
		cfg.Realtime.NATSURL = []string{defaultNATSURL}
	}
	if strings.TrimSpace(cfg.Realtime.SubjectPrefix) == "" {
		cfg.Realtime.SubjectPrefix = defaultSubjectPrefix
	}
	if strings.TrimSpace(cfg.Realtime.ChannelPrefix) == "" {
		cfg.Realtime.ChannelPrefix = defaultChannelPrefix
	}
	if len(cfg.Realtime.Tables) == 0 {
		for _, table := range domain.WatchedTables {
			cfg.Realtime.Tables = append(cfg.Realtime.Tables, string(table))
		}
	}

	if cfg.Refresh.IntervalSec <= 0 {
		cfg.Refresh.IntervalSec = defaultRefreshSec
	}
	if strings.TrimSpace(cfg.Refresh.DefaultPeriod) == "" {
		cfg.Refresh.DefaultPeriod = defaultPeriod
	}

	if cfg.SLA.CriticalSec <= 0 {
		cfg.SLA.CriticalSec = defaultSLACriticalSec
	}
	if cfg.SLA.DefaultSec <= 0 {
		cfg.SLA.DefaultSec = defaultSLADefaultSec
	}
	if cfg.SLA.WarningSec <= 0 {
		cfg.SLA.WarningSec = defaultSLAWarningSec
	}
	if cfg.SLA.TickSec <= 0 {
		cfg.SLA.TickSec = defaultSLATickSec
	}

	if cfg.Telemetry.CriticalRatio <= 0 {
		cfg.Telemetry.CriticalRatio = defaultCriticalRatio
	}

	if cfg.Notify.InboxSize <= 0 {
		cfg.Notify.InboxSize = defaultInboxSize
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = defaultQueueSize
	}
	if cfg.Notify.Webhook.TimeoutSec <= 0 {
		cfg.Notify.Webhook.TimeoutSec = defaultWebhookTimeoutSec
	}
	fillNotifyRetryDefaults(&cfg.Notify.Webhook.Retry)
}

// fillNotifyRetryDefaults sets backoff defaults for one retry policy.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = 500
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = 60000
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = defaultRetryMaxAttempts
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: first failing rule.
func validateConfig(cfg Config) error {
	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.API.Listen) == "" {
		return errors.New("api.listen is required")
	}
	for name, path := range map[string]string{"api.health_path": cfg.API.HealthPath, "api.ready_path": cfg.API.ReadyPath} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with /", name)
		}
	}

	switch cfg.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			return errors.New("store.dsn is required when store.driver=postgres")
		}
	default:
		return fmt.Errorf("store.driver has unsupported value %q", cfg.Store.Driver)
	}
	if cfg.Store.MaxIdleConns > cfg.Store.MaxOpenConns {
		return errors.New("store.max_idle_conns must be <= store.max_open_conns")
	}

	switch cfg.Cache.Driver {
	case CacheDriverMemory, CacheDriverRedis:
	default:
		return fmt.Errorf("cache.driver has unsupported value %q", cfg.Cache.Driver)
	}
	if cfg.Cache.DB < 0 {
		return errors.New("cache.db must be >=0")
	}

	switch cfg.Realtime.Driver {
	case RealtimeDriverMemory:
		if cfg.Store.Driver != StoreDriverMemory {
			return errors.New("realtime.driver=memory requires store.driver=memory")
		}
	case RealtimeDriverNATS:
		for i, url := range cfg.Realtime.NATSURL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("realtime.nats_url[%d] is empty", i)
			}
		}
	case RealtimeDriverPostgres:
		if cfg.Store.Driver != StoreDriverPostgres {
			return errors.New("realtime.driver=postgres requires store.driver=postgres")
		}
	default:
		return fmt.Errorf("realtime.driver has unsupported value %q", cfg.Realtime.Driver)
	}
	seen := make(map[domain.Table]struct{}, len(cfg.Realtime.Tables))
	for i, table := range cfg.WatchedTables() {
		if !table.Valid() {
			return fmt.Errorf("realtime.tables[%d] has unsupported value %q", i, table)
		}
		if _, exists := seen[table]; exists {
			return fmt.Errorf("realtime.tables[%d] duplicates %q", i, table)
		}
		seen[table] = struct{}{}
	}

	period, err := timewindow.ParsePeriod(cfg.Refresh.DefaultPeriod)
	if err != nil {
		return fmt.Errorf("refresh.default_period: %w", err)
	}
	if period == timewindow.PeriodCustom {
		return errors.New("refresh.default_period must not be custom")
	}

	if cfg.SLA.WarningSec >= cfg.SLA.CriticalSec {
		return errors.New("sla.warning_sec must be < sla.critical_sec")
	}
	if cfg.SLA.CriticalSec > cfg.SLA.DefaultSec {
		return errors.New("sla.critical_sec must be <= sla.default_sec")
	}

	if cfg.Telemetry.CriticalRatio >= 1 {
		return errors.New("telemetry.critical_ratio must be in (0,1)")
	}

	return validateNotify(cfg.Notify)
}

// validateNotify checks webhook sink settings when enabled.
// Params: notify section.
// Returns: validation error.
func validateNotify(cfg NotifyConfig) error {
	if !cfg.Webhook.Enabled {
		return nil
	}
	url := strings.TrimSpace(cfg.Webhook.URL)
	if url == "" {
		return errors.New("notify.webhook.url is required when notify.webhook.enabled=true")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("notify.webhook.url must be http(s), got %q", url)
	}
	if strings.TrimSpace(cfg.Webhook.Template) != "" {
		if err := validateMessageTemplate("notify.webhook.template", cfg.Webhook.Template); err != nil {
			return err
		}
	}
	return validateRetry("notify.webhook.retry", cfg.Webhook.Retry)
}

// validateRetry checks one retry policy.
// Params: field path and policy.
// Returns: validation error.
func validateRetry(path string, retry NotifyRetry) error {
	if !retry.Enabled {
		return nil
	}
	switch retry.Backoff {
	case "exponential", "constant":
	default:
		return fmt.Errorf("%s.backoff has unsupported value %q", path, retry.Backoff)
	}
	if retry.MaxMS < retry.InitialMS {
		return fmt.Errorf("%s.max_ms must be >= initial_ms", path)
	}
	if retry.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >=0", path)
	}
	return nil
}

// NormalizeName canonicalizes driver and table names.
func NormalizeName(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// normalizeNATSURLs trims and drops empty URL entries.
func normalizeNATSURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// validateMessageTemplate parses one text template and checks it is non-empty.
// Params: field path and template body.
// Returns: parse/empty error.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("%s is required", path)
	}
	if _, err := templatefmt.ParseNotificationTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}
