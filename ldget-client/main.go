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

// This binary reads LD records for a coordinate range directly from an
// http(s), gs:// or local file, optionally through a range relay.
//
//	ldget-client [flags] <uri> [<start> <end>]
//
// Without a range it prints the file size and first and last records.
package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/googlegenomics/ldget/internal/fetch"
	"github.com/googlegenomics/ldget/internal/ld"
	"github.com/googlegenomics/ldget/internal/logging"
	"github.com/googlegenomics/ldget/reader"
)

const (
	scope = "https://www.googleapis.com/auth/devstorage.read_only"
)

var (
	relayURI   = flag.String("relay", "", "range relay URI for http(s) sources")
	blockSize  = flag.Uint64("block_size", 512, "cache block size in KiB")
	lineBuffer = flag.Uint64("line_buffer", reader.DefaultLineBufferSize, "upper bound on the length of a record line")
	uncached   = flag.Bool("uncached", false, "fetch every range directly")
	format     = flag.String("format", "tsv", "output format: tsv or json")
	output     = flag.String("o", "", "output filename")
	auth       = flag.Bool("auth", false, "authenticate with application default credentials")
	rps        = flag.Float64("rate", 0, "if set, limits fetch attempts per second")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "ldget-client: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	flag.Parse()
	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logging.Setup(level)

	if *format != "tsv" && *format != "json" {
		return fmt.Errorf("unsupported format %q", *format)
	}
	args := flag.Args()
	if len(args) != 1 && len(args) != 3 {
		return errors.New("usage: ldget-client [flags] <uri> [<start> <end>]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client, err := newHTTPClient(ctx)
	if err != nil {
		return err
	}

	fetchOpts := fetch.Options{Relay: *relayURI, Client: client}
	if *rps > 0 {
		fetchOpts.Limiter = rate.NewLimiter(rate.Limit(*rps), 1)
	}
	r, err := reader.Open(ctx, args[0], fetchOpts, reader.Options{
		BlockSize:      *blockSize * 1024,
		LineBufferSize: *lineBuffer,
		Uncached:       *uncached,
	})
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("opening output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	started := time.Now()
	if len(args) == 1 {
		return printSummary(ctx, bw, r)
	}

	start, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing start: %w", err)
	}
	end, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing end: %w", err)
	}
	records, err := r.RecordsInCoordinateRange(ctx, start, end)
	if err != nil {
		return err
	}
	slog.Info("Query complete", "records", len(records), "block_fetches", r.BlockFetches(), "elapsed", time.Since(started))

	if *format == "json" {
		if records == nil {
			records = []*ld.Record{}
		}
		return json.NewEncoder(bw).Encode(records)
	}
	for _, record := range records {
		if _, err := fmt.Fprintln(bw, strings.ReplaceAll(record.String(), " ", "\t")); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(ctx context.Context, w io.Writer, r *reader.Reader) error {
	size, err := r.FileSize(ctx)
	if err != nil {
		return err
	}
	bounds, err := r.Boundaries(ctx)
	if err != nil && !errors.Is(err, reader.ErrEmptyFile) {
		return err
	}

	if *format == "json" {
		return json.NewEncoder(w).Encode(struct {
			Size uint64 `json:"size"`
			reader.Boundaries
		}{size, bounds})
	}
	fmt.Fprintf(w, "size\t%d\n", size)
	if bounds.First != nil {
		fmt.Fprintf(w, "first\t%s\n", strings.ReplaceAll(bounds.First.String(), " ", "\t"))
		fmt.Fprintf(w, "last\t%s\n", strings.ReplaceAll(bounds.Last.String(), " ", "\t"))
	}
	return nil
}

// newHTTPClient returns the client used for http(s) and gs:// sources.
func newHTTPClient(ctx context.Context) (*http.Client, error) {
	var base *http.Client

	// For compatibility with other tools, read the standard cURL certificate
	// authority override from the environment.
	if bundle := os.Getenv("CURL_CA_BUNDLE"); bundle != "" {
		pem, err := os.ReadFile(bundle)
		if err != nil {
			return nil, fmt.Errorf("reading CA override file %q: %w", bundle, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("initializing system certificate pool: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("adding certificates from bundle %q", bundle)
		}
		base = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					RootCAs: pool,
				}},
		}
		slog.Info("Using CA override bundle", "path", bundle)
	}

	if !*auth {
		return base, nil
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	client, err := google.DefaultClient(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("creating authenticated client: %w", err)
	}
	return client, nil
}
