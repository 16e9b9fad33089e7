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
	"os"
	"testing"
	"time"
)

// stubStore is an in-memory TokenStore so tests never touch the OS keyring.
type stubStore struct {
	values map[string]string
}

func (s *stubStore) Get(service, key string) (string, error) {
	v, ok := s.values[service+"/"+key]
	if !ok {
		return "", os.ErrNotExist
	}
	return v, nil
}

func (s *stubStore) Set(service, key, value string) error {
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[service+"/"+key] = value
	return nil
}

func (s *stubStore) Delete(service, key string) error {
	delete(s.values, service+"/"+key)
	return nil
}

func swapTokenStore(t *testing.T, ts TokenStore) {
	t.Helper()
	old := tokenStore
	tokenStore = ts
	t.Cleanup(func() { tokenStore = old })
}

func TestEnvOverridesAIBaseURL(t *testing.T) {
	old := os.Getenv(EnvAIBaseURL)
	_ = os.Setenv(EnvAIBaseURL, "https://example.test:8443")
	t.Cleanup(func() { _ = os.Setenv(EnvAIBaseURL, old) })
	swapTokenStore(t, &stubStore{})
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, want := cfg.AI.BaseURL, "https://example.test:8443"; got != want {
		t.Fatalf("AI.BaseURL = %q, want %q", got, want)
	}
}

func TestEnvOverridesTelemetry(t *testing.T) {
	old := os.Getenv(EnvTelemetryOptIn)
	_ = os.Setenv(EnvTelemetryOptIn, "true")
	t.Cleanup(func() { _ = os.Setenv(EnvTelemetryOptIn, old) })
	swapTokenStore(t, &stubStore{})
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.General.TelemetryOptIn {
		t.Fatalf("General.TelemetryOptIn expected true from env override")
	}
}

func TestAPIKeyEnvBeatsKeyring(t *testing.T) {
	store := &stubStore{}
	_ = store.Set(keyringService, keyringAPIKey, "from-keyring")
	swapTokenStore(t, store)
	old := os.Getenv(EnvAIAPIKey)
	_ = os.Setenv(EnvAIAPIKey, "from-env")
	t.Cleanup(func() { _ = os.Setenv(EnvAIAPIKey, old) })
	_, key, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("API key = %q, want env value", key)
	}
	_ = os.Setenv(EnvAIAPIKey, "")
	_, key, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if key != "from-keyring" {
		t.Fatalf("API key = %q, want keyring value", key)
	}
}

func TestMergeIncludesStorage(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Storage.Driver = "Postgres"
	src.Storage.PostgresDSN = "postgres://localhost/criador"
	mergeInto(&dst, &src)
	if dst.Storage.Driver != "postgres" {
		t.Fatalf("driver not normalized: %q", dst.Storage.Driver)
	}
	if dst.Storage.PostgresDSN != "postgres://localhost/criador" {
		t.Fatalf("dsn not merged: %q", dst.Storage.PostgresDSN)
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := Defaults()
	src.Logging.Level = "debug"
	src.Logging.Format = "json"
	src.Logging.Source = true
	src.Logging.File = "/tmp/criador.log"
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "/tmp/criador.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	oldLevel := os.Getenv(EnvLogLevel)
	oldFmt := os.Getenv(EnvLogFormat)
	oldSrc := os.Getenv(EnvLogSource)
	oldFile := os.Getenv(EnvLogFile)
	_ = os.Setenv(EnvLogLevel, "error")
	_ = os.Setenv(EnvLogFormat, "json")
	_ = os.Setenv(EnvLogSource, "1")
	_ = os.Setenv(EnvLogFile, "/tmp/criador.log")
	t.Cleanup(func() {
		_ = os.Setenv(EnvLogLevel, oldLevel)
		_ = os.Setenv(EnvLogFormat, oldFmt)
		_ = os.Setenv(EnvLogSource, oldSrc)
		_ = os.Setenv(EnvLogFile, oldFile)
	})
	swapTokenStore(t, &stubStore{})
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "/tmp/criador.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestDurationsFallBackToDefaults(t *testing.T) {
	var ai AIConfig
	if got := ai.Timeout(); got != 120*time.Second {
		t.Fatalf("zero AI timeout = %v, want default", got)
	}
	var as AutosaveConfig
	if got := as.Delay(); got != 800*time.Millisecond {
		t.Fatalf("zero autosave delay = %v, want default", got)
	}
	as.DelayMs = 250
	if got := as.Delay(); got != 250*time.Millisecond {
		t.Fatalf("autosave delay = %v, want 250ms", got)
	}
}
