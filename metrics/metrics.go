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

// Package metrics exposes Prometheus instrumentation for both pipeline
// directions. A nil *Pipeline is valid and records nothing, so callers
// never guard instrumentation sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the counters and gauges of one client instance.
type Pipeline struct {
	framesSubmitted      prometheus.Counter
	requestsTransmitted  prometheus.Counter
	acks                 prometheus.Counter
	ingestionExceptions  prometheus.Counter
	queryResponses       prometheus.Counter
	bucketsCorrelated    prometheus.Counter
	malformedBuckets     prometheus.Counter
	blocksAssembled      prometheus.Counter
	queueDepth           prometheus.Gauge
	queueAllocationBytes prometheus.Gauge
}

// NewPipeline builds the metric set and registers it with reg. Pass
// prometheus.DefaultRegisterer for process-global exposition.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		framesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "ingest", Name: "frames_submitted_total",
			Help: "Frames handed to the ingestion pipeline.",
		}),
		requestsTransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "ingest", Name: "requests_transmitted_total",
			Help: "Ingestion requests written to forward streams.",
		}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "ingest", Name: "acks_total",
			Help: "Acknowledged ingestion requests.",
		}),
		ingestionExceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "ingest", Name: "exceptions_total",
			Help: "Ingestion requests rejected by the platform.",
		}),
		queryResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "query", Name: "responses_total",
			Help: "Query responses admitted by the receiver.",
		}),
		bucketsCorrelated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "query", Name: "buckets_correlated_total",
			Help: "Raw buckets admitted into correlated sets.",
		}),
		malformedBuckets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "query", Name: "buckets_malformed_total",
			Help: "Raw buckets skipped by validation.",
		}),
		blocksAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dataplane", Subsystem: "query", Name: "blocks_assembled_total",
			Help: "Blocks present in finished aggregates, fused blocks counted once.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataplane", Subsystem: "buffer", Name: "queue_depth",
			Help: "Messages waiting in the pipeline buffer.",
		}),
		queueAllocationBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dataplane", Subsystem: "buffer", Name: "queue_allocation_bytes",
			Help: "Accounted bytes waiting in the pipeline buffer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			p.framesSubmitted, p.requestsTransmitted, p.acks, p.ingestionExceptions,
			p.queryResponses, p.bucketsCorrelated, p.malformedBuckets, p.blocksAssembled,
			p.queueDepth, p.queueAllocationBytes,
		)
	}
	return p
}

func (p *Pipeline) FrameSubmitted() {
	if p != nil {
		p.framesSubmitted.Inc()
	}
}

func (p *Pipeline) RequestTransmitted() {
	if p != nil {
		p.requestsTransmitted.Inc()
	}
}

func (p *Pipeline) Acknowledged() {
	if p != nil {
		p.acks.Inc()
	}
}

func (p *Pipeline) IngestionException() {
	if p != nil {
		p.ingestionExceptions.Inc()
	}
}

func (p *Pipeline) QueryResponse() {
	if p != nil {
		p.queryResponses.Inc()
	}
}

func (p *Pipeline) BucketCorrelated() {
	if p != nil {
		p.bucketsCorrelated.Inc()
	}
}

func (p *Pipeline) MalformedBucket() {
	if p != nil {
		p.malformedBuckets.Inc()
	}
}

func (p *Pipeline) BlocksAssembled(n int) {
	if p != nil {
		p.blocksAssembled.Add(float64(n))
	}
}

func (p *Pipeline) SetQueueDepth(n int) {
	if p != nil {
		p.queueDepth.Set(float64(n))
	}
}

func (p *Pipeline) SetQueueAllocation(bytes int64) {
	if p != nil {
		p.queueAllocationBytes.Set(float64(bytes))
	}
}
