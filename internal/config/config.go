/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	keyring "github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
// Minimal schema to start; can evolve with config_version migrations.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields should be preserved when possible (yaml handles this by ignoring extras on unmarshal).

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Secret signs bearer tokens. Not stored on disk; env or keyring only.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "sqlite" | "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type BlobConfig struct {
	Driver    string `yaml:"driver"` // "fs" | "gcs"
	Root      string `yaml:"root"`
	BaseURL   string `yaml:"base_url"`
	GCSBucket string `yaml:"gcs_bucket"`
	CDNDomain string `yaml:"cdn_domain"`
}

type AIConfig struct {
	BaseURL    string `yaml:"base_url"`
	ImageModel string `yaml:"image_model"`
	ChatModel  string `yaml:"chat_model"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	// The API key is not stored on disk; it lives in the OS keychain.
}

type AutosaveConfig struct {
	DelayMs int `yaml:"delay_ms"`
}

type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	General       GeneralConfig  `yaml:"general"`
	Logging       LoggingConfig  `yaml:"logging"`
	Server        ServerConfig   `yaml:"server"`
	Storage       StorageConfig  `yaml:"storage"`
	Blob          BlobConfig     `yaml:"blob"`
	AI            AIConfig       `yaml:"ai"`
	Autosave      AutosaveConfig `yaml:"autosave"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
		Server:        ServerConfig{Addr: ":8080", TokenTTLMinutes: 60},
		Storage:       StorageConfig{Driver: "sqlite", SQLitePath: "criador.sqlite"},
		Blob:          BlobConfig{Driver: "fs", Root: "blobs", BaseURL: "/media"},
		AI: AIConfig{
			BaseURL:    "https://generativelanguage.googleapis.com",
			ImageModel: "gemini-2.5-flash-image",
			ChatModel:  "gemini-2.5-flash",
			TimeoutMs:  120000,
		},
		Autosave: AutosaveConfig{DelayMs: 800},
	}
}

// Env var names used as overrides.
const (
	EnvAddr           = "CM_ADDR"
	EnvAuthSecret     = "CM_AUTH_SECRET"
	EnvStorageDriver  = "CM_STORAGE_DRIVER"
	EnvSQLitePath     = "CM_SQLITE_PATH"
	EnvPostgresDSN    = "CM_PG_DSN"
	EnvBlobDriver     = "CM_BLOB_DRIVER"
	EnvBlobRoot       = "CM_BLOB_ROOT"
	EnvBlobBaseURL    = "CM_BLOB_BASE_URL"
	EnvGCSBucket      = "CM_GCS_BUCKET"
	EnvCDNDomain      = "CM_CDN_DOMAIN"
	EnvAIBaseURL      = "CM_AI_BASE_URL"
	EnvAIImageModel   = "CM_AI_IMAGE_MODEL"
	EnvAIChatModel    = "CM_AI_CHAT_MODEL"
	EnvAITimeoutMs    = "CM_AI_TIMEOUT_MS"
	EnvAIAPIKey       = "CM_AI_API_KEY"
	EnvAutosaveDelay  = "CM_AUTOSAVE_DELAY_MS"
	EnvTelemetryOptIn = "CM_TELEMETRY_OPT_IN"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "CM_LOG_LEVEL"
	EnvLogFormat = "CM_LOG_FORMAT"
	EnvLogSource = "CM_LOG_SOURCE"
	EnvLogFile   = "CM_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "CriadorMental"
	keyringAPIKey  = "ai_api_key"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = &osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (k *osKeyring) Get(service, key string) (string, error) {
	return keyring.Get(service, key)
}

func (k *osKeyring) Set(service, key, value string) error {
	return keyring.Set(service, key, value)
}

func (k *osKeyring) Delete(service, key string) error {
	return keyring.Delete(service, key)
}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "CriadorMental")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "CriadorMental")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "criadormental")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// The AI API key is resolved env > keyring and returned separately; it is never kept in the struct.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err == nil {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	key := strings.TrimSpace(os.Getenv(EnvAIAPIKey))
	if key == "" {
		key, _ = tokenStore.Get(keyringService, keyringAPIKey)
	}
	return cfg, key, nil
}

// Save writes the user config YAML and persists the API key into OS keyring (if non-empty).
func Save(cfg AppConfig, apiKey string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if apiKey != "" {
		if err := tokenStore.Set(keyringService, keyringAPIKey, apiKey); err != nil {
			return err
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
	// server
	if strings.TrimSpace(src.Server.Addr) != "" {
		dst.Server.Addr = strings.TrimSpace(src.Server.Addr)
	}
	if src.Server.TokenTTLMinutes > 0 {
		dst.Server.TokenTTLMinutes = src.Server.TokenTTLMinutes
	}
	// storage
	if strings.TrimSpace(src.Storage.Driver) != "" {
		dst.Storage.Driver = strings.ToLower(strings.TrimSpace(src.Storage.Driver))
	}
	if strings.TrimSpace(src.Storage.SQLitePath) != "" {
		dst.Storage.SQLitePath = src.Storage.SQLitePath
	}
	if strings.TrimSpace(src.Storage.PostgresDSN) != "" {
		dst.Storage.PostgresDSN = src.Storage.PostgresDSN
	}
	// blob
	if strings.TrimSpace(src.Blob.Driver) != "" {
		dst.Blob.Driver = strings.ToLower(strings.TrimSpace(src.Blob.Driver))
	}
	if strings.TrimSpace(src.Blob.Root) != "" {
		dst.Blob.Root = src.Blob.Root
	}
	if strings.TrimSpace(src.Blob.BaseURL) != "" {
		dst.Blob.BaseURL = src.Blob.BaseURL
	}
	if strings.TrimSpace(src.Blob.GCSBucket) != "" {
		dst.Blob.GCSBucket = src.Blob.GCSBucket
	}
	if strings.TrimSpace(src.Blob.CDNDomain) != "" {
		dst.Blob.CDNDomain = src.Blob.CDNDomain
	}
	// ai
	if strings.TrimSpace(src.AI.BaseURL) != "" {
		dst.AI.BaseURL = src.AI.BaseURL
	}
	if strings.TrimSpace(src.AI.ImageModel) != "" {
		dst.AI.ImageModel = src.AI.ImageModel
	}
	if strings.TrimSpace(src.AI.ChatModel) != "" {
		dst.AI.ChatModel = src.AI.ChatModel
	}
	if src.AI.TimeoutMs != 0 {
		dst.AI.TimeoutMs = src.AI.TimeoutMs
	}
	// autosave
	if src.Autosave.DelayMs > 0 {
		dst.Autosave.DelayMs = src.Autosave.DelayMs
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	boolVal := func(v string) bool {
		lv := strings.ToLower(v)
		return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	if v := strings.TrimSpace(os.Getenv(EnvAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDriver)); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvSQLitePath)); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBlobDriver)); v != "" {
		cfg.Blob.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvBlobRoot)); v != "" {
		cfg.Blob.Root = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBlobBaseURL)); v != "" {
		cfg.Blob.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGCSBucket)); v != "" {
		cfg.Blob.GCSBucket = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCDNDomain)); v != "" {
		cfg.Blob.CDNDomain = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIBaseURL)); v != "" {
		cfg.AI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIImageModel)); v != "" {
		cfg.AI.ImageModel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAIChatModel)); v != "" {
		cfg.AI.ChatModel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAITimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AI.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvAutosaveDelay)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Autosave.DelayMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = boolVal(v)
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = boolVal(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// AuthSecret resolves the token-signing secret: env first, then keyring.
func AuthSecret() string {
	if v := strings.TrimSpace(os.Getenv(EnvAuthSecret)); v != "" {
		return v
	}
	v, _ := tokenStore.Get(keyringService, "auth_secret")
	return v
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	vars := map[string]string{
		"server.addr":              EnvAddr,
		"storage.driver":           EnvStorageDriver,
		"storage.sqlite_path":      EnvSQLitePath,
		"storage.postgres_dsn":     EnvPostgresDSN,
		"blob.driver":              EnvBlobDriver,
		"blob.root":                EnvBlobRoot,
		"blob.base_url":            EnvBlobBaseURL,
		"blob.gcs_bucket":          EnvGCSBucket,
		"blob.cdn_domain":          EnvCDNDomain,
		"ai.base_url":              EnvAIBaseURL,
		"ai.image_model":           EnvAIImageModel,
		"ai.chat_model":            EnvAIChatModel,
		"ai.timeout_ms":            EnvAITimeoutMs,
		"autosave.delay_ms":        EnvAutosaveDelay,
		"general.telemetry_opt_in": EnvTelemetryOptIn,
		"logging.level":            EnvLogLevel,
		"logging.format":           EnvLogFormat,
		"logging.source":           EnvLogSource,
		"logging.file":             EnvLogFile,
	}
	name, ok := vars[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Timeout returns the AI request timeout as a duration.
func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutMs <= 0 {
		return time.Duration(Defaults().AI.TimeoutMs) * time.Millisecond
	}
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Delay returns the autosave debounce window as a duration.
func (a AutosaveConfig) Delay() time.Duration {
	if a.DelayMs <= 0 {
		return time.Duration(Defaults().Autosave.DelayMs) * time.Millisecond
	}
	return time.Duration(a.DelayMs) * time.Millisecond
}
