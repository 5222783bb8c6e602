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

// This binary runs a range relay for browsers reading LD files from servers
// that do not allow cross-origin range requests.
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

	"github.com/gin-gonic/gin"

	"github.com/googlegenomics/ldget/internal/config"
	"github.com/googlegenomics/ldget/internal/logging"
	"github.com/googlegenomics/ldget/relay"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ldget-relay: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), relay.Logger())
	relay.New(relay.Options{
		AllowedHosts:      cfg.Relay.AllowedHosts,
		RequestsPerSecond: cfg.Relay.RequestsPerSecond,
		Burst:             cfg.Relay.Burst,
		Client:            &http.Client{Timeout: time.Minute},
	}).Register(router, "/")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
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

	slog.Info("Relaying", "addr", srv.Addr, "allowed_hosts", cfg.Relay.AllowedHosts, "rate", cfg.Relay.RequestsPerSecond)
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
