/*
 * Copyright 2025 The TSDP Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// dpeval drives the full client against a live platform endpoint: it
// registers a provider, ingests generated frames for each named source,
// then queries the sources back and reports timings.
//
//	dpeval temp pressure --endpoint host:9000 --threads 4 --decomp small --output ./reports
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/tsdp/dataplane"
	"github.com/tsdp/dataplane/report"
	"github.com/tsdp/dataplane/types"
)

const version = "1.0.0"

const (
	exitOK = iota
	exitInputInvalid
	exitInitFailure
	exitOutputFailure
	exitExecException
	exitGRPCException
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dpeval", flag.ContinueOnError)
	endpoint := fs.String("endpoint", "localhost:9000", "platform endpoint")
	threads := fs.Int("threads", 4, "worker pool size for both pipelines")
	pivot := fs.Int("pivot", 8, "batch size at which parallel processing kicks in")
	decomp := fs.String("decomp", "default", "frame decomposition budget: off|small|default")
	stypes := fs.String("stypes", "clock", "timestamp descriptors to generate: clock|list")
	scnts := fs.String("scnts", "64", "samples per generated frame")
	output := fs.String("output", "console", "report destination: console or a directory")
	showVersion := fs.Bool("version", false, "print the tool version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitInputInvalid
	}
	if *showVersion {
		fmt.Println("dpeval", version)
		return exitOK
	}

	samples, err := cast.ToIntE(*scnts)
	if err != nil || samples < 1 {
		fmt.Fprintf(os.Stderr, "dpeval: invalid --scnts %q\n", *scnts)
		return exitInputInvalid
	}
	var maxBytes int
	switch *decomp {
	case "off":
		maxBytes = 0
	case "small":
		maxBytes = 4 * 1024
	case "default":
		maxBytes = 4 * 1024 * 1024
	default:
		fmt.Fprintf(os.Stderr, "dpeval: unknown --decomp %q\n", *decomp)
		return exitInputInvalid
	}
	if *stypes != "clock" && *stypes != "list" {
		fmt.Fprintf(os.Stderr, "dpeval: unknown --stypes %q\n", *stypes)
		return exitInputInvalid
	}

	sources := fs.Args()
	if len(sources) == 0 {
		sources = []string{"temp", "pressure", "humidity"}
	}

	cfg := types.DefaultConfig()
	cfg.Ingestion.Concurrency = types.ConcurrencyConfig{Enabled: *threads > 1, MaxThreads: *threads, PivotSize: *pivot}
	cfg.Query.Concurrency = cfg.Ingestion.Concurrency
	cfg.Ingestion.MaxDecomposedBytes = maxBytes

	client, err := dataplane.New(*endpoint, dataplane.WithConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpeval: %v\n", err)
		return exitInitFailure
	}
	defer client.Close()

	rep := report.New("dpeval", "dpeval "+strings.Join(args, " "))
	ctx := context.Background()

	if code := runIngest(ctx, client, rep, sources, *stypes, samples); code != exitOK {
		return code
	}
	if code := runQuery(ctx, client, rep, sources); code != exitOK {
		return code
	}

	if *output == "console" {
		fmt.Print(rep.Render())
	} else if path, err := rep.WriteFile(*output); err != nil {
		fmt.Fprintf(os.Stderr, "dpeval: %v\n", err)
		return exitOutputFailure
	} else {
		fmt.Println(path)
	}
	if rep.Failed() {
		return exitExecException
	}
	return exitOK
}

func runIngest(ctx context.Context, client *dataplane.Client, rep *report.Report, sources []string, stypes string, samples int) int {
	begin := time.Now()
	tx, err := client.OpenProvider(ctx, "dpeval", map[string]string{"tool": "dpeval"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpeval: open provider: %v\n", err)
		return exitGRPCException
	}
	for i, source := range sources {
		frame, err := makeFrame(fmt.Sprintf("dpeval-%d", i), source, stypes, samples)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dpeval: %v\n", err)
			return exitExecException
		}
		if err := tx.Ingest(ctx, frame); err != nil {
			fmt.Fprintf(os.Stderr, "dpeval: ingest: %v\n", err)
			return exitGRPCException
		}
	}
	closeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := tx.CloseStream(closeCtx); err != nil {
		fmt.Fprintf(os.Stderr, "dpeval: close stream: %v\n", err)
		return exitGRPCException
	}
	defer tx.ShutdownNow()

	c := report.Case{
		Name:    "ingest",
		Elapsed: time.Since(begin),
		Count:   tx.TransmissionCount(),
		Detail: fmt.Sprintf("%d frame(s), %d response(s), %d exception(s)",
			len(sources), len(tx.IngestionResponses()), len(tx.IngestionExceptions())),
	}
	if n := len(tx.IngestionExceptions()); n > 0 {
		c.Failed = true
		c.FailText = fmt.Sprintf("%d request(s) rejected by the platform", n)
	}
	rep.Add(c)
	return exitOK
}

func runQuery(ctx context.Context, client *dataplane.Client, rep *report.Report, sources []string) int {
	begin := time.Now()
	end := time.Now()
	res, err := client.Query(ctx, sources, end.Add(-time.Hour), end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpeval: query: %v\n", err)
		return exitGRPCException
	}
	c := report.Case{Name: "query", Elapsed: time.Since(begin)}
	if res.IsRejected() {
		c.Failed = true
		c.FailText = fmt.Sprintf("request rejected: %s (%s)", res.Rejected.Reason, res.Rejected.Message)
	} else {
		c.Count = int64(res.Table.RowCount())
		c.Detail = fmt.Sprintf("table %dx%d, %d block(s), %d malformed bucket(s)",
			res.Table.RowCount(), res.Table.ColumnCount(), len(res.Aggregate.Blocks()), len(res.Malformed))
	}
	rep.Add(c)
	return exitOK
}

// makeFrame generates one single-column frame for a source.
func makeFrame(id, source, stypes string, samples int) (*types.IngestionFrame, error) {
	start := time.Now().Add(-time.Duration(samples) * time.Second).Truncate(time.Second)
	var ts types.Timestamps
	var err error
	if stypes == "list" {
		instants := make([]time.Time, samples)
		for i := range instants {
			instants[i] = start.Add(time.Duration(i) * time.Second)
		}
		ts, err = types.NewTimestampList(instants)
	} else {
		ts, err = types.NewSamplingClock(start, time.Second, samples)
	}
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, samples)
	for i := range values {
		values[i] = float64(i)
	}
	return types.NewIngestionFrame(id, ts, []*types.Column{
		types.NewColumn(source, types.ValueTypeFloat64, values),
	})
}
