package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cliproxy/internal/domain"
	"cliproxy/internal/infra/update"
)

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = "cliproxy.yaml"

const envPrefix = "CLIPROXY"

// Config is the validated gateway configuration.
type Config struct {
	Server    ServerConfig
	Execution ExecutionConfig
	Admission AdmissionConfig
	Discovery DiscoveryConfig
	GeminiAPI GeminiAPIConfig
	Update    UpdateConfig
	Cleanup   CleanupConfig
	Shutdown  ShutdownConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

type ExecutionConfig struct {
	MaxConcurrent      int
	DefaultTimeout     time.Duration
	MinTimeout         time.Duration
	MaxTimeout         time.Duration
	ProbeTimeout       time.Duration
	HealthProbeTimeout time.Duration
	AvailabilityTTL    time.Duration
}

type AdmissionConfig struct {
	RateLimit        int
	RateWindow       time.Duration
	MaxModelIDLength int
}

type DiscoveryConfig struct {
	CacheTTL time.Duration
	Watch    bool
}

type GeminiAPIConfig struct {
	Enabled         bool
	CredentialsPath string
	Endpoint        string
	TokenURL        string
	ProjectTTL      time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	DiscoverClient  bool
	ClientID        string
	ClientSecret    string
}

type UpdateConfig struct {
	ManifestURL      string
	RawBaseURL       string
	CheckTTL         time.Duration
	CheckTimeout     time.Duration
	DownloadTimeout  time.Duration
	RestartDelay     time.Duration
	AddonDir         string
	InstallDir       string
	ReinstallCommand []string
	ReinstallTimeout time.Duration
	BinaryRemote     string
}

type CleanupConfig struct {
	ConfirmToken    string
	ExpectedDirName string
	RemovalDelay    time.Duration
}

type ShutdownConfig struct {
	PollInterval time.Duration
	Deadline     time.Duration
}

type LogConfig struct {
	Level       string
	Development bool
	File        string
}

type rawConfig struct {
	Server    rawServerConfig    `mapstructure:"server"`
	Execution rawExecutionConfig `mapstructure:"execution"`
	Admission rawAdmissionConfig `mapstructure:"admission"`
	Discovery rawDiscoveryConfig `mapstructure:"discovery"`
	GeminiAPI rawGeminiAPIConfig `mapstructure:"geminiApi"`
	Update    rawUpdateConfig    `mapstructure:"update"`
	Cleanup   rawCleanupConfig   `mapstructure:"cleanup"`
	Shutdown  rawShutdownConfig  `mapstructure:"shutdown"`
	Log       rawLogConfig       `mapstructure:"log"`
}

type rawServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type rawExecutionConfig struct {
	MaxConcurrent      int           `mapstructure:"maxConcurrent"`
	DefaultTimeout     time.Duration `mapstructure:"defaultTimeout"`
	MinTimeout         time.Duration `mapstructure:"minTimeout"`
	MaxTimeout         time.Duration `mapstructure:"maxTimeout"`
	ProbeTimeout       time.Duration `mapstructure:"probeTimeout"`
	HealthProbeTimeout time.Duration `mapstructure:"healthProbeTimeout"`
	AvailabilityTTL    time.Duration `mapstructure:"availabilityTTL"`
}

type rawAdmissionConfig struct {
	RateLimit        int           `mapstructure:"rateLimit"`
	RateWindow       time.Duration `mapstructure:"rateWindow"`
	MaxModelIDLength int           `mapstructure:"maxModelIDLength"`
}

type rawDiscoveryConfig struct {
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
	Watch    bool          `mapstructure:"watch"`
}

type rawGeminiAPIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	CredentialsPath string        `mapstructure:"credentialsPath"`
	Endpoint        string        `mapstructure:"endpoint"`
	TokenURL        string        `mapstructure:"tokenURL"`
	ProjectTTL      time.Duration `mapstructure:"projectTTL"`
	MaxRetries      int           `mapstructure:"maxRetries"`
	BackoffBase     time.Duration `mapstructure:"backoffBase"`
	BackoffCap      time.Duration `mapstructure:"backoffCap"`
	DiscoverClient  bool          `mapstructure:"discoverClient"`
	ClientID        string        `mapstructure:"clientId"`
	ClientSecret    string        `mapstructure:"clientSecret"`
}

type rawUpdateConfig struct {
	ManifestURL      string        `mapstructure:"manifestURL"`
	RawBaseURL       string        `mapstructure:"rawBaseURL"`
	CheckTTL         time.Duration `mapstructure:"checkTTL"`
	CheckTimeout     time.Duration `mapstructure:"checkTimeout"`
	DownloadTimeout  time.Duration `mapstructure:"downloadTimeout"`
	RestartDelay     time.Duration `mapstructure:"restartDelay"`
	AddonDir         string        `mapstructure:"addonDir"`
	InstallDir       string        `mapstructure:"installDir"`
	ReinstallCommand []string      `mapstructure:"reinstallCommand"`
	ReinstallTimeout time.Duration `mapstructure:"reinstallTimeout"`
	BinaryRemote     string        `mapstructure:"binaryRemote"`
}

type rawCleanupConfig struct {
	ConfirmToken    string        `mapstructure:"confirmToken"`
	ExpectedDirName string        `mapstructure:"expectedDirName"`
	RemovalDelay    time.Duration `mapstructure:"removalDelay"`
}

type rawShutdownConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	Deadline     time.Duration `mapstructure:"deadline"`
}

type rawLogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// ResolveConfigPath returns the file to load. A missing default file means
// "defaults only"; a missing explicit file is an error reported by LoadConfig.
func ResolveConfigPath(path string, explicit bool) string {
	path = strings.TrimSpace(path)
	if explicit {
		return path
	}
	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// LoadConfig reads the YAML file at path (if any), overlays CLIPROXY_*
// environment variables and validates the result.
func LoadConfig(ctx context.Context, path string) (Config, error) {
	v := newConfigViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	cfg := normalizeConfig(raw, userHome())
	if errs := validateConfig(cfg); len(errs) > 0 {
		return Config{}, errors.New(strings.Join(errs, "; "))
	}
	return cfg, nil
}

func newConfigViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT")
	setConfigDefaults(v)
	return v
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("server.host", domain.DefaultServerHost)
	v.SetDefault("server.port", domain.DefaultServerPort)

	v.SetDefault("execution.maxConcurrent", domain.DefaultMaxConcurrent)
	v.SetDefault("execution.defaultTimeout", domain.DefaultExecutionTimeout)
	v.SetDefault("execution.minTimeout", domain.MinExecutionTimeout)
	v.SetDefault("execution.maxTimeout", domain.MaxExecutionTimeout)
	v.SetDefault("execution.probeTimeout", domain.DefaultProbeTimeout)
	v.SetDefault("execution.healthProbeTimeout", domain.DefaultHealthProbeTimeout)
	v.SetDefault("execution.availabilityTTL", domain.DefaultAvailabilityTTL)

	v.SetDefault("admission.rateLimit", domain.DefaultRateLimit)
	v.SetDefault("admission.rateWindow", domain.DefaultRateWindow)
	v.SetDefault("admission.maxModelIDLength", domain.DefaultMaxModelIDLength)

	v.SetDefault("discovery.cacheTTL", domain.DefaultModelCacheTTL)
	v.SetDefault("discovery.watch", true)

	v.SetDefault("geminiApi.enabled", true)
	v.SetDefault("geminiApi.credentialsPath", filepath.Join("~", ".gemini", domain.DefaultGeminiCredentialFile))
	v.SetDefault("geminiApi.endpoint", domain.DefaultGeminiAPIEndpoint)
	v.SetDefault("geminiApi.tokenURL", domain.DefaultGeminiTokenURL)
	v.SetDefault("geminiApi.projectTTL", domain.DefaultGeminiProjectTTL)
	v.SetDefault("geminiApi.maxRetries", domain.DefaultGeminiMaxRetries)
	v.SetDefault("geminiApi.backoffBase", domain.DefaultGeminiBackoffBase)
	v.SetDefault("geminiApi.backoffCap", domain.DefaultGeminiBackoffCap)
	v.SetDefault("geminiApi.discoverClient", true)
	v.SetDefault("geminiApi.clientId", "")
	v.SetDefault("geminiApi.clientSecret", "")

	v.SetDefault("update.manifestURL", domain.DefaultManifestURL)
	v.SetDefault("update.rawBaseURL", domain.DefaultRawBaseURL)
	v.SetDefault("update.checkTTL", domain.DefaultUpdateCheckTTL)
	v.SetDefault("update.checkTimeout", domain.DefaultUpdateTimeout)
	v.SetDefault("update.downloadTimeout", domain.DefaultDownloadTimeout)
	v.SetDefault("update.restartDelay", domain.DefaultRestartDelay)
	v.SetDefault("update.addonDir", "")
	v.SetDefault("update.installDir", "")
	v.SetDefault("update.reinstallCommand", []string{})
	v.SetDefault("update.reinstallTimeout", 3*time.Minute)
	v.SetDefault("update.binaryRemote", update.DefaultBinaryRemote())

	v.SetDefault("cleanup.confirmToken", domain.DefaultCleanupConfirmToken)
	v.SetDefault("cleanup.expectedDirName", domain.DefaultCleanupDirName)
	v.SetDefault("cleanup.removalDelay", domain.DefaultCleanupRemovalDelay)

	v.SetDefault("shutdown.pollInterval", domain.DefaultShutdownPollInterval)
	v.SetDefault("shutdown.deadline", domain.DefaultShutdownDeadline)

	v.SetDefault("log.level", domain.DefaultLogLevel)
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

func normalizeConfig(raw rawConfig, home string) Config {
	cfg := Config{
		Server: ServerConfig{
			Host: strings.TrimSpace(raw.Server.Host),
			Port: raw.Server.Port,
		},
		Execution: ExecutionConfig(raw.Execution),
		Admission: AdmissionConfig(raw.Admission),
		Discovery: DiscoveryConfig(raw.Discovery),
		GeminiAPI: GeminiAPIConfig{
			Enabled:         raw.GeminiAPI.Enabled,
			CredentialsPath: expandHome(strings.TrimSpace(raw.GeminiAPI.CredentialsPath), home),
			Endpoint:        strings.TrimRight(strings.TrimSpace(raw.GeminiAPI.Endpoint), "/"),
			TokenURL:        strings.TrimSpace(raw.GeminiAPI.TokenURL),
			ProjectTTL:      raw.GeminiAPI.ProjectTTL,
			MaxRetries:      raw.GeminiAPI.MaxRetries,
			BackoffBase:     raw.GeminiAPI.BackoffBase,
			BackoffCap:      raw.GeminiAPI.BackoffCap,
			DiscoverClient:  raw.GeminiAPI.DiscoverClient,
			ClientID:        strings.TrimSpace(raw.GeminiAPI.ClientID),
			ClientSecret:    strings.TrimSpace(raw.GeminiAPI.ClientSecret),
		},
		Update: UpdateConfig{
			ManifestURL:      strings.TrimSpace(raw.Update.ManifestURL),
			RawBaseURL:       strings.TrimRight(strings.TrimSpace(raw.Update.RawBaseURL), "/"),
			CheckTTL:         raw.Update.CheckTTL,
			CheckTimeout:     raw.Update.CheckTimeout,
			DownloadTimeout:  raw.Update.DownloadTimeout,
			RestartDelay:     raw.Update.RestartDelay,
			AddonDir:         expandHome(strings.TrimSpace(raw.Update.AddonDir), home),
			InstallDir:       expandHome(strings.TrimSpace(raw.Update.InstallDir), home),
			ReinstallCommand: normalizeCommand(raw.Update.ReinstallCommand),
			ReinstallTimeout: raw.Update.ReinstallTimeout,
			BinaryRemote:     strings.Trim(strings.TrimSpace(raw.Update.BinaryRemote), "/"),
		},
		Cleanup: CleanupConfig{
			ConfirmToken:    strings.TrimSpace(raw.Cleanup.ConfirmToken),
			ExpectedDirName: strings.TrimSpace(raw.Cleanup.ExpectedDirName),
			RemovalDelay:    raw.Cleanup.RemovalDelay,
		},
		Shutdown: ShutdownConfig(raw.Shutdown),
		Log: LogConfig{
			Level:       strings.ToLower(strings.TrimSpace(raw.Log.Level)),
			Development: raw.Log.Development,
			File:        expandHome(strings.TrimSpace(raw.Log.File), home),
		},
	}
	if cfg.Update.AddonDir == "" {
		cfg.Update.AddonDir = update.DefaultAddonDir(home)
	}
	if cfg.Update.InstallDir == "" {
		cfg.Update.InstallDir = update.DefaultInstallDir()
	}
	return cfg
}

func validateConfig(cfg Config) []string {
	var errs []string
	if !isLoopbackHost(cfg.Server.Host) {
		errs = append(errs, fmt.Sprintf("server.host must be a loopback address, got %q", cfg.Server.Host))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be in 1..65535, got %d", cfg.Server.Port))
	}
	if cfg.Execution.MaxConcurrent < 1 {
		errs = append(errs, "execution.maxConcurrent must be >= 1")
	}
	positive := []struct {
		key   string
		value time.Duration
	}{
		{"execution.defaultTimeout", cfg.Execution.DefaultTimeout},
		{"execution.minTimeout", cfg.Execution.MinTimeout},
		{"execution.maxTimeout", cfg.Execution.MaxTimeout},
		{"execution.probeTimeout", cfg.Execution.ProbeTimeout},
		{"execution.healthProbeTimeout", cfg.Execution.HealthProbeTimeout},
		{"execution.availabilityTTL", cfg.Execution.AvailabilityTTL},
		{"admission.rateWindow", cfg.Admission.RateWindow},
		{"discovery.cacheTTL", cfg.Discovery.CacheTTL},
		{"update.checkTTL", cfg.Update.CheckTTL},
		{"update.checkTimeout", cfg.Update.CheckTimeout},
		{"update.downloadTimeout", cfg.Update.DownloadTimeout},
		{"update.reinstallTimeout", cfg.Update.ReinstallTimeout},
		{"shutdown.pollInterval", cfg.Shutdown.PollInterval},
		{"shutdown.deadline", cfg.Shutdown.Deadline},
	}
	for _, item := range positive {
		if item.value <= 0 {
			errs = append(errs, item.key+" must be positive")
		}
	}
	if cfg.Execution.MinTimeout > cfg.Execution.MaxTimeout {
		errs = append(errs, "execution.minTimeout must not exceed execution.maxTimeout")
	}
	if cfg.Admission.RateLimit < 1 {
		errs = append(errs, "admission.rateLimit must be >= 1")
	}
	if cfg.Admission.MaxModelIDLength < 1 {
		errs = append(errs, "admission.maxModelIDLength must be >= 1")
	}
	if cfg.GeminiAPI.MaxRetries < 0 {
		errs = append(errs, "geminiApi.maxRetries must be >= 0")
	}
	if cfg.GeminiAPI.Enabled && cfg.GeminiAPI.CredentialsPath == "" {
		errs = append(errs, "geminiApi.credentialsPath is required when geminiApi is enabled")
	}
	if cfg.Update.RestartDelay < 0 || cfg.Cleanup.RemovalDelay < 0 {
		errs = append(errs, "update.restartDelay and cleanup.removalDelay must not be negative")
	}
	if cfg.Cleanup.ConfirmToken == "" {
		errs = append(errs, "cleanup.confirmToken is required")
	}
	if cfg.Cleanup.ExpectedDirName == "" {
		errs = append(errs, "cleanup.expectedDirName is required")
	}
	if cfg.Update.BinaryRemote == "" {
		errs = append(errs, "update.binaryRemote is required")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of debug, info, warn, error, got %q", cfg.Log.Level))
	}
	return errs
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func normalizeCommand(command []string) []string {
	out := make([]string, 0, len(command))
	for _, part := range command {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path, home string) string {
	if home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(home, path[2:])
	}
	return path
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// Settings renders the effective configuration with durations as strings.
func (c Config) Settings() map[string]any {
	secret := ""
	if c.GeminiAPI.ClientSecret != "" {
		secret = "<redacted>"
	}
	return map[string]any{
		"server": map[string]any{
			"host": c.Server.Host,
			"port": c.Server.Port,
		},
		"execution": map[string]any{
			"maxConcurrent":      c.Execution.MaxConcurrent,
			"defaultTimeout":     c.Execution.DefaultTimeout.String(),
			"minTimeout":         c.Execution.MinTimeout.String(),
			"maxTimeout":         c.Execution.MaxTimeout.String(),
			"probeTimeout":       c.Execution.ProbeTimeout.String(),
			"healthProbeTimeout": c.Execution.HealthProbeTimeout.String(),
			"availabilityTTL":    c.Execution.AvailabilityTTL.String(),
		},
		"admission": map[string]any{
			"rateLimit":        c.Admission.RateLimit,
			"rateWindow":       c.Admission.RateWindow.String(),
			"maxModelIDLength": c.Admission.MaxModelIDLength,
		},
		"discovery": map[string]any{
			"cacheTTL": c.Discovery.CacheTTL.String(),
			"watch":    c.Discovery.Watch,
		},
		"geminiApi": map[string]any{
			"enabled":         c.GeminiAPI.Enabled,
			"credentialsPath": c.GeminiAPI.CredentialsPath,
			"endpoint":        c.GeminiAPI.Endpoint,
			"tokenURL":        c.GeminiAPI.TokenURL,
			"projectTTL":      c.GeminiAPI.ProjectTTL.String(),
			"maxRetries":      c.GeminiAPI.MaxRetries,
			"backoffBase":     c.GeminiAPI.BackoffBase.String(),
			"backoffCap":      c.GeminiAPI.BackoffCap.String(),
			"discoverClient":  c.GeminiAPI.DiscoverClient,
			"clientId":        c.GeminiAPI.ClientID,
			"clientSecret":    secret,
		},
		"update": map[string]any{
			"manifestURL":      c.Update.ManifestURL,
			"rawBaseURL":       c.Update.RawBaseURL,
			"checkTTL":         c.Update.CheckTTL.String(),
			"checkTimeout":     c.Update.CheckTimeout.String(),
			"downloadTimeout":  c.Update.DownloadTimeout.String(),
			"restartDelay":     c.Update.RestartDelay.String(),
			"addonDir":         c.Update.AddonDir,
			"installDir":       c.Update.InstallDir,
			"reinstallCommand": c.Update.ReinstallCommand,
			"reinstallTimeout": c.Update.ReinstallTimeout.String(),
			"binaryRemote":     c.Update.BinaryRemote,
		},
		"cleanup": map[string]any{
			"confirmToken":    c.Cleanup.ConfirmToken,
			"expectedDirName": c.Cleanup.ExpectedDirName,
			"removalDelay":    c.Cleanup.RemovalDelay.String(),
		},
		"shutdown": map[string]any{
			"pollInterval": c.Shutdown.PollInterval.String(),
			"deadline":     c.Shutdown.Deadline.String(),
		},
		"log": map[string]any{
			"level":       c.Log.Level,
			"development": c.Log.Development,
			"file":        c.Log.File,
		},
	}
}
