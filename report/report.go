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

// Package report renders evaluation runs as plain-text reports, either
// to the console or to a timestamped file under an output directory.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Case is one measured run.
type Case struct {
	Name     string
	Elapsed  time.Duration
	Count    int64
	Detail   string
	Failed   bool
	FailText string
}

// Report accumulates cases for one tool invocation.
type Report struct {
	Tool    string
	Command string
	Started time.Time
	Cases   []Case
}

// New starts a report for the named tool.
func New(tool, command string) *Report {
	return &Report{Tool: tool, Command: command, Started: time.Now()}
}

// Add records one finished case.
func (r *Report) Add(c Case) {
	r.Cases = append(r.Cases, c)
}

// Failed reports whether any case failed.
func (r *Report) Failed() bool {
	for _, c := range r.Cases {
		if c.Failed {
			return true
		}
	}
	return false
}

// durations of the successful cases, sorted ascending.
func (r *Report) durations() []time.Duration {
	var out []time.Duration
	for _, c := range r.Cases {
		if !c.Failed {
			out = append(out, c.Elapsed)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render writes the report text.
func (r *Report) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s report\n", r.Tool)
	fmt.Fprintf(&b, "started: %s\n", r.Started.Format(time.RFC3339))
	fmt.Fprintf(&b, "command: %s\n", r.Command)
	fmt.Fprintf(&b, "cases:   %d\n\n", len(r.Cases))

	if ds := r.durations(); len(ds) > 0 {
		var sum, sq float64
		for _, d := range ds {
			ms := float64(d) / float64(time.Millisecond)
			sum += ms
			sq += ms * ms
		}
		n := float64(len(ds))
		mean := sum / n
		std := math.Sqrt(math.Max(0, sq/n-mean*mean))
		fmt.Fprintf(&b, "elapsed  min=%v max=%v avg=%.3fms std=%.3fms\n\n",
			ds[0], ds[len(ds)-1], mean, std)
	}

	for _, c := range r.Cases {
		status := "ok"
		if c.Failed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%-4s] %-30s %12v", status, c.Name, c.Elapsed)
		if c.Count > 0 {
			fmt.Fprintf(&b, " n=%d", c.Count)
		}
		b.WriteByte('\n')
		if c.Detail != "" {
			fmt.Fprintf(&b, "       %s\n", c.Detail)
		}
		if c.Failed && c.FailText != "" {
			fmt.Fprintf(&b, "       %s\n", c.FailText)
		}
	}
	return b.String()
}

// WriteFile stores the rendered report as <dir>/<tool>-<timestamp>.txt
// and returns the path. An empty dir writes to the working directory.
func (r *Report) WriteFile(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	name := fmt.Sprintf("%s-%s.txt", r.Tool, r.Started.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(r.Render()), 0o644); err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	return path, nil
}
