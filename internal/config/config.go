package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "TUBEDIGEST_CONFIG"
	telegramTokenEnv = "TELEGRAM_BOT_TOKEN"
	allowedUsersEnv  = "TUBEDIGEST_ALLOWED_USERS"
	proxyURLEnv      = "TUBEDIGEST_PROXY_URL"
	asrAPIKeyEnv     = "ASR_API_KEY"
	llmAPIKeyEnv     = "LLM_API_KEY"
	llmModelEnv      = "LLM_MODEL"
	storageBucketEnv = "TUBEDIGEST_BUCKET"
	redisAddrEnv     = "TUBEDIGEST_REDIS_ADDR"
	adminTokenEnv    = "TUBEDIGEST_ADMIN_TOKEN"
	sqlitePathEnv    = "TUBEDIGEST_SQLITE_PATH"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Telegram TelegramConfig `yaml:"telegram"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Storage  StorageConfig  `yaml:"storage"`
	ASR      ASRConfig      `yaml:"asr"`
	LLM      LLMConfig      `yaml:"llm"`
	YTDLP    YTDLPConfig    `yaml:"ytdlp"`
	Results  ResultsConfig  `yaml:"results"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Retry    RetryConfig    `yaml:"retry"`
	Progress ProgressConfig `yaml:"progress"`
	Admin    AdminConfig    `yaml:"admin"`
	History  HistoryConfig  `yaml:"history"`
}

// LoggingConfig controls the structured log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelegramConfig wires the bot transport and the user allow list. An empty
// allow list admits everyone.
type TelegramConfig struct {
	BotToken       string   `yaml:"botToken"`
	AllowedUserIDs []string `yaml:"allowedUserIds"`
	PollTimeout    int      `yaml:"pollTimeout"`
}

// ProxyConfig is the outbound network policy. URL is the explicit proxy for
// media-source and chat-transport calls; DisableAll forces every service
// class direct.
type ProxyConfig struct {
	URL        string `yaml:"url"`
	DisableAll bool   `yaml:"disableAll"`
}

// StorageConfig describes the audio staging bucket.
type StorageConfig struct {
	Bucket  string        `yaml:"bucket"`
	SignTTL time.Duration `yaml:"signTtl"`
}

// ASRConfig defines the async speech recognition service.
type ASRConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"apiKey"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"pollInterval"`
	PollTimeout  time.Duration `yaml:"pollTimeout"`
}

// LLMConfig defines how to contact the chat-completions API for both
// summarization and chat mode.
type LLMConfig struct {
	Endpoint         string `yaml:"endpoint"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"apiKey"`
	SummaryPrompt    string `yaml:"summaryPrompt"`
	ChatSystemPrompt string `yaml:"chatSystemPrompt"`
}

// YTDLPConfig locates the downloader binary and its working directory.
type YTDLPConfig struct {
	Path         string `yaml:"path"`
	DownloadsDir string `yaml:"downloadsDir"`
}

// ResultsConfig controls where transcripts and summaries are written and how
// stale temp files are swept.
type ResultsConfig struct {
	Dir             string        `yaml:"dir"`
	TempDir         string        `yaml:"tempDir"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	MaxTempAge      time.Duration `yaml:"maxTempAge"`
}

// RedisConfig is optional; an empty Addr keeps sessions in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionConfig governs session expiry. IdleTTL <= 0 never expires.
type SessionConfig struct {
	IdleTTL time.Duration `yaml:"idleTtl"`
}

// RetryConfig bounds transient-failure retries inside the pipeline.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// ProgressConfig throttles progress message edits.
type ProgressConfig struct {
	MinInterval time.Duration `yaml:"minInterval"`
}

// AdminConfig exposes the local health and inspection endpoints. An empty
// ListenAddr disables the server.
type AdminConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Token      string `yaml:"token"`
}

// HistoryConfig points at the run-history database.
type HistoryConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(allowedUsersEnv); v != "" {
		c.Telegram.AllowedUserIDs = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Telegram.AllowedUserIDs = append(c.Telegram.AllowedUserIDs, id)
			}
		}
	}

	if v := os.Getenv(proxyURLEnv); v != "" {
		c.Proxy.URL = v
	}

	if v := os.Getenv(storageBucketEnv); v != "" {
		c.Storage.Bucket = v
	}

	if v := os.Getenv(asrAPIKeyEnv); v != "" {
		c.ASR.APIKey = v
	}

	if v := os.Getenv(llmAPIKeyEnv); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv(llmModelEnv); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}

	if v := os.Getenv(adminTokenEnv); v != "" {
		c.Admin.Token = v
	}

	if v := os.Getenv(sqlitePathEnv); v != "" {
		c.History.SQLitePath = v
	}
}

// AllowedUserSet converts the allow list into a lookup map. Nil means no
// restriction.
func (c TelegramConfig) AllowedUserSet() map[string]bool {
	if len(c.AllowedUserIDs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.AllowedUserIDs))
	for _, id := range c.AllowedUserIDs {
		set[id] = true
	}
	return set
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if override.Telegram.BotToken != "" {
		base.Telegram.BotToken = override.Telegram.BotToken
	}
	if len(override.Telegram.AllowedUserIDs) > 0 {
		base.Telegram.AllowedUserIDs = override.Telegram.AllowedUserIDs
	}
	if override.Telegram.PollTimeout > 0 {
		base.Telegram.PollTimeout = override.Telegram.PollTimeout
	}

	if override.Proxy.URL != "" {
		base.Proxy.URL = override.Proxy.URL
	}
	if override.Proxy.DisableAll {
		base.Proxy.DisableAll = true
	}

	if override.Storage.Bucket != "" {
		base.Storage.Bucket = override.Storage.Bucket
	}
	if override.Storage.SignTTL > 0 {
		base.Storage.SignTTL = override.Storage.SignTTL
	}

	if override.ASR.Endpoint != "" {
		base.ASR.Endpoint = override.ASR.Endpoint
	}
	if override.ASR.APIKey != "" {
		base.ASR.APIKey = override.ASR.APIKey
	}
	if override.ASR.Model != "" {
		base.ASR.Model = override.ASR.Model
	}
	if override.ASR.PollInterval > 0 {
		base.ASR.PollInterval = override.ASR.PollInterval
	}
	if override.ASR.PollTimeout > 0 {
		base.ASR.PollTimeout = override.ASR.PollTimeout
	}

	if override.LLM.Endpoint != "" {
		base.LLM.Endpoint = override.LLM.Endpoint
	}
	if override.LLM.Model != "" {
		base.LLM.Model = override.LLM.Model
	}
	if override.LLM.APIKey != "" {
		base.LLM.APIKey = override.LLM.APIKey
	}
	if override.LLM.SummaryPrompt != "" {
		base.LLM.SummaryPrompt = override.LLM.SummaryPrompt
	}
	if override.LLM.ChatSystemPrompt != "" {
		base.LLM.ChatSystemPrompt = override.LLM.ChatSystemPrompt
	}

	if override.YTDLP.Path != "" {
		base.YTDLP.Path = override.YTDLP.Path
	}
	if override.YTDLP.DownloadsDir != "" {
		base.YTDLP.DownloadsDir = override.YTDLP.DownloadsDir
	}

	if override.Results.Dir != "" {
		base.Results.Dir = override.Results.Dir
	}
	if override.Results.TempDir != "" {
		base.Results.TempDir = override.Results.TempDir
	}
	if override.Results.CleanupInterval > 0 {
		base.Results.CleanupInterval = override.Results.CleanupInterval
	}
	if override.Results.MaxTempAge > 0 {
		base.Results.MaxTempAge = override.Results.MaxTempAge
	}

	if override.Redis.Addr != "" {
		base.Redis = override.Redis
	}

	if override.Session.IdleTTL > 0 {
		base.Session.IdleTTL = override.Session.IdleTTL
	}

	if override.Retry.MaxAttempts > 0 {
		base.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if override.Retry.Backoff > 0 {
		base.Retry.Backoff = override.Retry.Backoff
	}

	if override.Progress.MinInterval > 0 {
		base.Progress.MinInterval = override.Progress.MinInterval
	}

	if override.Admin.ListenAddr != "" {
		base.Admin.ListenAddr = override.Admin.ListenAddr
	}
	if override.Admin.Token != "" {
		base.Admin.Token = override.Admin.Token
	}

	if override.History.SQLitePath != "" {
		base.History.SQLitePath = override.History.SQLitePath
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info"},
		Telegram: TelegramConfig{PollTimeout: 30},
		Proxy:    ProxyConfig{},
		Storage:  StorageConfig{SignTTL: 24 * time.Hour},
		ASR: ASRConfig{
			Endpoint:     "https://dashscope.aliyuncs.com/api/v1/services/audio/asr/transcription",
			Model:        "paraformer-v2",
			PollInterval: 5 * time.Second,
			PollTimeout:  30 * time.Minute,
		},
		LLM: LLMConfig{
			Endpoint:      "https://api.openai.com/v1/chat/completions",
			Model:         "gpt-4o-mini",
			SummaryPrompt: "Summarize the spoken content of this video transcript. Keep the key points and conclusions.",
			ChatSystemPrompt: "You are a helpful assistant inside a messaging bot. " +
				"Answer concisely.",
		},
		YTDLP: YTDLPConfig{
			Path:         "yt-dlp",
			DownloadsDir: "downloads",
		},
		Results: ResultsConfig{
			Dir:             "results",
			TempDir:         "tmp",
			CleanupInterval: time.Hour,
			MaxTempAge:      6 * time.Hour,
		},
		Session:  SessionConfig{IdleTTL: 0},
		Retry:    RetryConfig{MaxAttempts: 3, Backoff: 2 * time.Second},
		Progress: ProgressConfig{MinInterval: 3 * time.Second},
		Admin:    AdminConfig{ListenAddr: ""},
		History:  HistoryConfig{SQLitePath: "tubedigest.db"},
	}
}
