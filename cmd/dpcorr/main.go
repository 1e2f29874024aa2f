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

// dpcorr exercises the read-side pipeline on locally generated buckets:
// correlate, coalesce, fuse and assemble, then project to a data table.
//
//	dpcorr [case ...] --threads 4 --pivot 8 --stypes mixed --scnts 16 --output ./reports
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/tsdp/dataplane/assemble"
	"github.com/tsdp/dataplane/correlate"
	"github.com/tsdp/dataplane/report"
	"github.com/tsdp/dataplane/table"
	"github.com/tsdp/dataplane/types"
)

const version = "1.0.0"

// exit codes shared by the data plane tools
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
	fs := flag.NewFlagSet("dpcorr", flag.ContinueOnError)
	threads := fs.Int("threads", 4, "worker pool size for bucket validation")
	pivot := fs.Int("pivot", 8, "batch size at which parallel validation kicks in")
	stypes := fs.String("stypes", "mixed", "timestamp descriptors to generate: clock|list|mixed")
	scnts := fs.Int("scnts", 8, "sources per generated case")
	output := fs.String("output", "console", "report destination: console or a directory")
	showVersion := fs.Bool("version", false, "print the tool version")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitInputInvalid
	}
	if *showVersion {
		fmt.Println("dpcorr", version)
		return exitOK
	}
	switch *stypes {
	case "clock", "list", "mixed":
	default:
		fmt.Fprintf(os.Stderr, "dpcorr: unknown --stypes %q\n", *stypes)
		return exitInputInvalid
	}
	if *scnts < 1 || *threads < 1 || *pivot < 0 {
		fmt.Fprintln(os.Stderr, "dpcorr: --scnts and --threads must be >= 1, --pivot >= 0")
		return exitInputInvalid
	}

	cases := fs.Args()
	if len(cases) == 0 {
		cases = []string{"disjoint", "overlapping", "malformed"}
	}

	rep := report.New("dpcorr", "dpcorr "+strings.Join(args, " "))
	for _, name := range cases {
		c, err := runCase(name, *stypes, *scnts, *threads, *pivot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dpcorr: %v\n", err)
			return exitExecException
		}
		rep.Add(c)
	}

	if *output == "console" {
		fmt.Print(rep.Render())
	} else if path, err := rep.WriteFile(*output); err != nil {
		fmt.Fprintf(os.Stderr, "dpcorr: %v\n", err)
		return exitOutputFailure
	} else {
		fmt.Println(path)
	}
	if rep.Failed() {
		return exitExecException
	}
	return exitOK
}

// runCase generates buckets for one named scenario and drives them
// through correlation and assembly.
func runCase(name, stypes string, sources, threads, pivot int) (report.Case, error) {
	buckets, err := generate(name, stypes, sources)
	if err != nil {
		return report.Case{}, err
	}

	begin := time.Now()
	corr := correlate.New(correlate.Config{
		RequestID:   "dpcorr-" + name,
		Concurrency: types.ConcurrencyConfig{Enabled: threads > 1, MaxThreads: threads, PivotSize: pivot},
	})
	corr.InsertAll(context.Background(), buckets)

	blocks := assemble.CoalesceAll(corr.Sets())
	agg, err := assemble.NewAssembler(false).Assemble(blocks)
	elapsed := time.Since(begin)

	c := report.Case{
		Name:    name,
		Elapsed: elapsed,
		Count:   int64(len(buckets)),
		Detail: fmt.Sprintf("%d set(s), %d failure(s), %d block(s)",
			len(corr.Sets()), len(corr.Failures()), len(blocks)),
	}
	if err != nil {
		c.Failed = true
		c.FailText = err.Error()
		return c, nil
	}
	tbl := table.FromAggregate(agg)
	c.Detail += fmt.Sprintf(", table %dx%d", tbl.RowCount(), tbl.ColumnCount())
	return c, nil
}

// generate builds the synthetic workload for one scenario name.
func generate(name, stypes string, sources int) ([]*types.RawBucket, error) {
	rng := rand.New(rand.NewSource(42))
	base := time.Unix(1700000000, 0)
	var out []*types.RawBucket

	descriptor := func(start time.Time, samples int) (types.Timestamps, error) {
		useList := stypes == "list" || (stypes == "mixed" && rng.Intn(2) == 0)
		if !useList {
			return types.NewSamplingClock(start, time.Second, samples)
		}
		instants := make([]time.Time, samples)
		for i := range instants {
			start = start.Add(time.Duration(1+rng.Intn(3)) * time.Second)
			instants[i] = start
		}
		return types.NewTimestampList(instants)
	}

	bucket := func(source string, ts types.Timestamps) *types.RawBucket {
		values := make([]interface{}, ts.Count())
		for i := range values {
			values[i] = rng.Float64() * 100
		}
		return &types.RawBucket{Source: source, Type: types.ValueTypeFloat64, Timestamps: ts, Values: values}
	}

	switch name {
	case "disjoint":
		for s := 0; s < sources; s++ {
			ts, err := descriptor(base.Add(time.Duration(s)*time.Hour), 16)
			if err != nil {
				return nil, err
			}
			out = append(out, bucket(fmt.Sprintf("src-%02d", s), ts))
		}
	case "overlapping":
		for s := 0; s < sources; s++ {
			ts, err := descriptor(base.Add(time.Duration(s*8)*time.Second), 16)
			if err != nil {
				return nil, err
			}
			out = append(out, bucket(fmt.Sprintf("src-%02d", s), ts))
		}
	case "malformed":
		ts, err := descriptor(base, 16)
		if err != nil {
			return nil, err
		}
		for s := 0; s < sources; s++ {
			out = append(out, bucket(fmt.Sprintf("src-%02d", s), ts))
		}
		out = append(out, &types.RawBucket{Source: "", Type: types.ValueTypeFloat64})
	default:
		return nil, fmt.Errorf("unknown case %q", name)
	}
	return out, nil
}
