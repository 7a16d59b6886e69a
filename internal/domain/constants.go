package domain

import "time"

const (
	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 19284

	DefaultMaxConcurrent      = 5
	DefaultExecutionTimeout   = 120 * time.Second
	MinExecutionTimeout       = 5 * time.Second
	MaxExecutionTimeout       = 600 * time.Second
	DefaultProbeTimeout       = 10 * time.Second
	DefaultHealthProbeTimeout = 12 * time.Second
	DefaultAvailabilityTTL    = 30 * time.Second

	DefaultRateLimit        = 120
	DefaultRateWindow       = 60 * time.Second
	DefaultMaxModelIDLength = 200

	DefaultModelCacheTTL = 30 * time.Second

	DefaultGeminiAPIEndpoint    = "https://cloudcode-pa.googleapis.com"
	DefaultGeminiTokenURL       = "https://oauth2.googleapis.com/token"
	DefaultGeminiProjectTTL     = 24 * time.Hour
	DefaultGeminiMaxRetries     = 3
	DefaultGeminiBackoffBase    = time.Second
	DefaultGeminiBackoffCap     = 30 * time.Second
	DefaultGeminiCredentialFile = "oauth_creds.json"

	DefaultManifestURL     = "https://raw.githubusercontent.com/Ketchio-dev/ivLyrics-AI-CLI-Provider/main/version.json"
	DefaultRawBaseURL      = "https://raw.githubusercontent.com/Ketchio-dev/ivLyrics-AI-CLI-Provider/main"
	DefaultUpdateCheckTTL  = time.Hour
	DefaultUpdateTimeout   = 10 * time.Second
	DefaultDownloadTimeout = 30 * time.Second
	DefaultRestartDelay    = time.Second

	DefaultCleanupConfirmToken = "REMOVE_PROXY"
	DefaultCleanupDirName      = "cli-proxy"
	DefaultCleanupRemovalDelay = 2 * time.Second

	DefaultShutdownPollInterval = 300 * time.Millisecond
	DefaultShutdownDeadline     = 30 * time.Second

	DefaultLogLevel = "info"
)

// UpdateTarget names accepted by the update endpoint.
const (
	UpdateTargetAddons = "addons"
	UpdateTargetProxy  = "proxy"
	UpdateTargetAll    = "all"
)

// AddonFiles lists the host-application addon artifacts that may be refreshed.
var AddonFiles = []string{
	"Addon_AI_CLI_Provider.js",
	"Addon_AI_CLI_ClaudeCode.js",
	"Addon_AI_CLI_CodexCLI.js",
	"Addon_AI_CLI_GeminiCLI.js",
}
