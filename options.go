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

package dataplane

import (
	"time"

	"github.com/tsdp/dataplane/logger"
	"github.com/tsdp/dataplane/metrics"
	"github.com/tsdp/dataplane/receiver"
	"github.com/tsdp/dataplane/transport"
	"github.com/tsdp/dataplane/types"
)

// Option customizes a Client at construction time.
type Option func(*Client, *transport.ChannelOptions)

// WithConfig replaces the default configuration wholesale.
func WithConfig(cfg types.Config) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.cfg = cfg
	}
}

// WithLogger routes client logging to log.
func WithLogger(log logger.Logger) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.log = log
	}
}

// WithMetrics attaches pipeline instrumentation.
func WithMetrics(p *metrics.Pipeline) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.metrics = p
	}
}

// WithQueryTimeout overrides the configured per-query deadline. Zero
// disables the deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.cfg.Query.Timeout = types.TimeoutConfig{Limit: d.Milliseconds(), Unit: "ms"}
	}
}

// WithQueryStreamMode selects how query streams are driven. The default
// is the cursor-paced bidirectional mode.
func WithQueryStreamMode(mode receiver.StreamMode) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.queryMode = mode
	}
}

// WithChannelOptions tunes the underlying channel.
func WithChannelOptions(opts transport.ChannelOptions) Option {
	return func(_ *Client, channel *transport.ChannelOptions) {
		*channel = opts
	}
}

// WithServiceClients injects pre-built service clients and skips
// dialing. Intended for in-process platforms and tests.
func WithServiceClients(query transport.QueryServiceClient, ingestion transport.IngestionServiceClient) Option {
	return func(c *Client, _ *transport.ChannelOptions) {
		c.query = query
		c.ingestion = ingestion
	}
}
