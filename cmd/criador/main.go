/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"criadormental/internal/blob"
	"criadormental/internal/config"
	"criadormental/internal/crash"
	"criadormental/internal/genai"
	applog "criadormental/internal/log"
	"criadormental/internal/server"
	"criadormental/internal/session"
	"criadormental/internal/storage"
	"criadormental/internal/telemetry"
	"criadormental/internal/version"
)

func usage() {
	fmt.Println("Criador Mental — mind-map image studio server")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  criador version|-v|--version   Show version")
	fmt.Println("  criador serve                  Run the HTTP server (default)")
}

func main() {
	args := os.Args
	if len(args) > 1 {
		switch args[1] {
		case "version", "--version", "-v":
			fmt.Println("Criador Mental")
			fmt.Println(version.String())
			return
		case "serve":
			// fall through to serve below
		case "help", "--help", "-h":
			usage()
			return
		default:
			fmt.Println("unknown command:", args[1])
			usage()
			os.Exit(2)
		}
	}

	cfg, apiKey, err := config.Load()
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l := applog.WithComponent("main")

	tcfg := telemetry.FromEnv()
	tcfg.OptIn = tcfg.OptIn || cfg.General.TelemetryOptIn
	telemetry.NewDefault(tcfg)

	var flush crash.FlushFunc
	defer crash.Recover("", func(ctx context.Context) error {
		if flush == nil {
			return nil
		}
		return flush(ctx)
	})

	if err := serve(cfg, apiKey, l, &flush); err != nil {
		l.Error("server failed", slog.Any("err", err))
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func serve(cfg config.AppConfig, apiKey string, l *slog.Logger, flush *crash.FlushFunc) error {
	secret := config.AuthSecret()
	if secret == "" {
		return fmt.Errorf("no auth secret configured; set %s", config.EnvAuthSecret)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, media, loader, err := openBlobs(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	ai := genai.NewClient(cfg.AI.BaseURL, apiKey, cfg.AI.ImageModel, cfg.AI.ChatModel, cfg.AI.Timeout())

	srv := server.New(server.Options{
		Secret:        secret,
		Store:         store,
		Blobs:         blobs,
		AI:            ai,
		Loader:        loader,
		AutosaveDelay: cfg.Autosave.Delay(),
		MediaStore:    media,
		TokenTTL:      time.Duration(cfg.Server.TokenTTLMinutes) * time.Minute,
	})
	*flush = func(ctx context.Context) error {
		srv.Shutdown(ctx)
		return nil
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("listening", slog.String("addr", cfg.Server.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		l.Info("shutting down")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		l.Warn("http shutdown", slog.Any("err", err))
	}
	// Flush pending autosaves and close open editors before the stores go away.
	srv.Shutdown(shutCtx)
	return nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return storage.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return storage.OpenPostgres(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openBlobs builds the blob store plus the loader that resolves stored image
// URLs back to bytes. The filesystem store also serves /media/* itself.
func openBlobs(ctx context.Context, cfg config.BlobConfig) (blob.Store, *blob.FSStore, session.ImageLoader, error) {
	switch cfg.Driver {
	case "", "fs":
		fs, err := blob.NewFSStore(cfg.Root, cfg.BaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		loader := func(ctx context.Context, url string) ([]byte, error) {
			key, ok := fs.KeyFromURL(url)
			if !ok {
				return nil, fmt.Errorf("unknown media url %q", url)
			}
			return fs.Get(ctx, key)
		}
		return fs, fs, loader, nil
	case "gcs":
		gcs, err := blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.CDNDomain)
		if err != nil {
			return nil, nil, nil, err
		}
		return gcs, nil, httpLoader, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// httpLoader fetches an image over HTTP, for blob stores whose URLs resolve
// outside this process.
func httpLoader(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}
