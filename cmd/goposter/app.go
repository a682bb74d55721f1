/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"goposter/internal/assets"
	"goposter/internal/config"
	"goposter/internal/crash"
	"goposter/internal/editor"
	applog "goposter/internal/log"
	"goposter/internal/scene/memengine"
	"goposter/internal/storage"
	"goposter/internal/telemetry"
	"goposter/internal/undo"
)

// app is one editor with its store and telemetry, built from the user
// configuration.
type app struct {
	cfg   config.AppConfig
	token string
	log   *slog.Logger
	store *storage.Store
	tel   *telemetry.Client
	ed    *editor.Editor
}

func loadConfig() (config.AppConfig, string) {
	cfg, token, err := config.Load()
	if err != nil {
		applog.WithComponent("cli").Warn("config load failed, using defaults", slog.Any("err", err))
	}
	applog.Init(cfg.Logging.Options())
	return cfg, token
}

func openStore(ctx context.Context, cfg config.AppConfig) (*storage.Store, error) {
	dsn, err := cfg.Store.ResolvedDSN()
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, cfg.Store.Driver, dsn, storage.WithKeepRevisions(cfg.Store.KeepRevisions))
}

func telemetryConfig(cfg config.AppConfig) telemetry.Config {
	tc := telemetry.FromEnv()
	tc.OptIn = tc.OptIn || cfg.General.TelemetryOptIn
	if tc.EventsURL == "" {
		tc.EventsURL = cfg.General.TelemetryURL
	}
	return tc
}

// newApp builds the editor. Without a store the persistence commands fail
// with editor.ErrNoStore.
func newApp(ctx context.Context, ref *crash.Ref, withStore bool) (*app, error) {
	cfg, token := loadConfig()
	a := &app{cfg: cfg, token: token, log: applog.WithComponent("cli")}
	a.tel = telemetry.NewDefault(telemetryConfig(cfg))

	opts := editor.Options{
		Width:           cfg.Editor.Width,
		Height:          cfg.Editor.Height,
		BackgroundColor: cfg.Editor.BackgroundColor,
		PersistedFields: cfg.Editor.PersistedFields,
		History: &undo.Config{
			MaxLength:   cfg.History.MaxLength,
			MaxBytes:    cfg.History.MaxBytes,
			MinInterval: time.Duration(cfg.History.MinIntervalMs) * time.Millisecond,
			Baseline:    cfg.History.BaselineEnabled(),
		},
		Assets: assets.NewLoader(),
	}
	if withStore {
		st, err := openStore(ctx, cfg)
		if err != nil {
			a.tel.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = st
		opts.Store = st
	}
	ed, err := editor.New(memengine.New(opts.Width, opts.Height, opts.BackgroundColor), opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.ed = ed
	ref.Set(ed)
	a.tel.Event("start", map[string]any{"store": a.storeDriver()})
	return a, nil
}

func (a *app) storeDriver() string {
	if a.store == nil {
		return ""
	}
	return a.store.Driver()
}

// observe feeds command timings to telemetry and the debug log.
func (a *app) observe(command string, took time.Duration, err error) {
	a.tel.Observe(command, took, err)
	if err != nil {
		a.log.Debug("command failed", slog.String("command", command), slog.Duration("took", took), slog.Any("err", err))
	}
}

func (a *app) close() {
	if a.ed != nil {
		_ = a.ed.Destroy()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", slog.Any("err", err))
		}
	}
	a.tel.ReportUsage()
	flush, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.tel.Flush(flush)
	a.tel.Close()
}
