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

	"gopkg.in/yaml.v3"

	applog "goposter/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type GeneralConfig struct {
	TelemetryOptIn bool   `yaml:"telemetry_opt_in"`
	TelemetryURL   string `yaml:"telemetry_url"`
}

type EditorConfig struct {
	Width           int      `yaml:"width"`
	Height          int      `yaml:"height"`
	BackgroundColor string   `yaml:"background_color"`
	PersistedFields []string `yaml:"persisted_fields"`
}

type HistoryConfig struct {
	MaxLength     int   `yaml:"max_length"`
	MaxBytes      int   `yaml:"max_bytes"`
	MinIntervalMs int   `yaml:"min_interval_ms"`
	Baseline      *bool `yaml:"baseline"`
}

type RemoteConfig struct {
	Addr           string   `yaml:"addr"`
	TimeoutMs      int      `yaml:"timeout_ms"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RequireToken   bool     `yaml:"require_token"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type StoreConfig struct {
	Driver        string `yaml:"driver"` // "sqlite" | "pgx"
	DSN           string `yaml:"dsn"`
	KeepRevisions int    `yaml:"keep_revisions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Editor        EditorConfig  `yaml:"editor"`
	History       HistoryConfig `yaml:"history"`
	Remote        RemoteConfig  `yaml:"remote"`
	Store         StoreConfig   `yaml:"store"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	baseline := true
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Editor:        EditorConfig{Width: 800, Height: 600, BackgroundColor: "#ffffff", PersistedFields: []string{"id", "selectable"}},
		History:       HistoryConfig{MaxLength: 50, Baseline: &baseline},
		Remote: RemoteConfig{
			Addr:           "127.0.0.1:8787",
			TimeoutMs:      5000,
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Store:   StoreConfig{Driver: "sqlite", KeepRevisions: 20},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath      = "GPE_CONFIG"
	EnvTelemetryOptIn  = "GPE_TELEMETRY_OPT_IN"
	EnvTelemetryURL    = "GPE_TELEMETRY_URL"
	EnvRemoteAddr      = "GPE_REMOTE_ADDR"
	EnvRemoteTimeoutMs = "GPE_REMOTE_TIMEOUT_MS"
	EnvAllowedOrigins  = "GPE_ALLOWED_ORIGINS"
	EnvRequireToken    = "GPE_REQUIRE_TOKEN"
	EnvStoreDriver     = "GPE_STORE_DRIVER"
	EnvStoreDSN        = "GPE_STORE_DSN"
	EnvHistoryMax      = "GPE_HISTORY_MAX"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "GPE_LOG_LEVEL"
	EnvLogFormat = "GPE_LOG_FORMAT"
	EnvLogSource = "GPE_LOG_SOURCE"
	EnvLogFile   = "GPE_LOG_FILE"
)

// ConfigDir returns the per-user configuration directory.
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "GoPoster")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "GoPoster")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "goposter")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "goposter")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path; GPE_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// It also loads the remote token from keyring (not kept inside the struct; returned separately).
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			applog.WithComponent("config").Warn("ignoring unreadable config file", "path", path, "err", err)
		} else {
			mergeInto(&cfg, &fileCfg)
		}
	}
	applyEnvOverrides(&cfg)
	tok, _ := Token()
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
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
	if token != "" {
		return SetToken(token)
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	if v := strings.TrimSpace(src.General.TelemetryURL); v != "" {
		dst.General.TelemetryURL = v
	}
	// editor
	if src.Editor.Width > 0 {
		dst.Editor.Width = src.Editor.Width
	}
	if src.Editor.Height > 0 {
		dst.Editor.Height = src.Editor.Height
	}
	if v := strings.TrimSpace(src.Editor.BackgroundColor); v != "" {
		dst.Editor.BackgroundColor = v
	}
	if len(src.Editor.PersistedFields) > 0 {
		dst.Editor.PersistedFields = src.Editor.PersistedFields
	}
	// history
	if src.History.MaxLength > 0 {
		dst.History.MaxLength = src.History.MaxLength
	}
	if src.History.MaxBytes > 0 {
		dst.History.MaxBytes = src.History.MaxBytes
	}
	if src.History.MinIntervalMs > 0 {
		dst.History.MinIntervalMs = src.History.MinIntervalMs
	}
	if src.History.Baseline != nil {
		dst.History.Baseline = src.History.Baseline
	}
	// remote
	if v := strings.TrimSpace(src.Remote.Addr); v != "" {
		dst.Remote.Addr = v
	}
	if src.Remote.TimeoutMs != 0 {
		dst.Remote.TimeoutMs = src.Remote.TimeoutMs
	}
	if src.Remote.AllowedOrigins != nil {
		dst.Remote.AllowedOrigins = src.Remote.AllowedOrigins
	}
	dst.Remote.RequireToken = src.Remote.RequireToken
	// store
	if v := strings.TrimSpace(src.Store.Driver); v != "" {
		dst.Store.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Store.DSN); v != "" {
		dst.Store.DSN = v
	}
	if src.Store.KeepRevisions > 0 {
		dst.Store.KeepRevisions = src.Store.KeepRevisions
	}
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
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryURL)); v != "" {
		cfg.General.TelemetryURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRemoteAddr)); v != "" {
		cfg.Remote.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRemoteTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Remote.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvAllowedOrigins)); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Remote.AllowedOrigins = origins
	}
	if v := strings.TrimSpace(os.Getenv(EnvRequireToken)); v != "" {
		cfg.Remote.RequireToken = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreDriver)); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreDSN)); v != "" {
		cfg.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHistoryMax)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.History.MaxLength = n
		}
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envKeys = map[string]string{
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.telemetry_url":    EnvTelemetryURL,
	"remote.addr":              EnvRemoteAddr,
	"remote.timeout_ms":        EnvRemoteTimeoutMs,
	"remote.allowed_origins":   EnvAllowedOrigins,
	"remote.require_token":     EnvRequireToken,
	"store.driver":             EnvStoreDriver,
	"store.dsn":                EnvStoreDSN,
	"history.max_length":       EnvHistoryMax,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := envKeys[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Timeout returns the proxy call timeout.
func (r RemoteConfig) Timeout() time.Duration {
	if r.TimeoutMs <= 0 {
		return time.Duration(Defaults().Remote.TimeoutMs) * time.Millisecond
	}
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// BaselineEnabled reports whether the initial scene is recorded as entry 0.
func (h HistoryConfig) BaselineEnabled() bool {
	return h.Baseline == nil || *h.Baseline
}

// ResolvedDSN returns the DSN, defaulting SQLite to a file in the config directory.
func (s StoreConfig) ResolvedDSN() (string, error) {
	if s.DSN != "" {
		return s.DSN, nil
	}
	if s.Driver != "" && s.Driver != "sqlite" {
		return "", errors.New("store dsn is required for driver " + s.Driver)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "documents.sqlite"), nil
}

// Options converts the logging section for applog.Init.
func (l LoggingConfig) Options() applog.Options {
	return applog.Options{Level: l.Level, Format: l.Format, AddSource: l.Source, File: l.File}
}
