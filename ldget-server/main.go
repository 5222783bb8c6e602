// Copyright 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This binary provides an LD query server that backs onto resources in GCS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/profile"

	"github.com/googlegenomics/ldget/api"
	"github.com/googlegenomics/ldget/internal/analytics"
	"github.com/googlegenomics/ldget/internal/config"
	"github.com/googlegenomics/ldget/internal/logging"
)

// Anonymous usage tracking, enabled by -track_usage.
//
// If enabled, anonymous information about requests handled by the server is
// logged to Google via Google Analytics.  No user identifying information is
// ever sent to Google.
const analyticsProperty = "UA-103022118-1"

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ldget-server: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	if cfg.Profile {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	newStorageClient := api.NewPublicClient
	if cfg.Secure {
		newStorageClient = api.NewClientFromBearerToken
	}

	mux := http.NewServeMux()
	server := api.NewServer(newStorageClient, cfg.ReaderOptions())
	server.Export(mux)

	if len(cfg.Buckets) > 0 {
		server.Whitelist(cfg.Buckets)
	}

	handler := http.Handler(mux)
	if cfg.TrackUsage {
		slog.Info("Enabling anonymous usage tracking")

		client := analytics.NewClient(analyticsProperty, uuid.New().String())
		handler = analytics.TrackingHandler(handler, func(hits []analytics.Hit) {
			if err := client.Send(context.Background(), hits); err != nil {
				slog.Warn("Failed to send hits to analytics", "hits", len(hits), "err", err)
			}
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Shutdown failed", "err", err)
		}
	}()

	slog.Info("Serving", "addr", srv.Addr, "secure", cfg.Secure, "block_kib", cfg.BlockSizeKiB)
	if cfg.Secure {
		err = srv.ListenAndServeTLS(cfg.HTTPSCert, cfg.HTTPSKey)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
