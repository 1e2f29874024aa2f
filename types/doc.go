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

// Package types defines the shared data model of the dataplane client
// library: timestamp descriptors, typed value columns, ingestion frames,
// raw query buckets and the process-wide configuration.
//
// The two timestamp descriptor variants mirror the wire protocol: a
// SamplingClock describes uniformly sampled data as (start, period, count),
// while a TimestampList carries every instant explicitly. Both implement
// the Timestamps interface so downstream stages never branch on the wire
// representation.
//
// Value columns are homogeneously typed. A nil cell is the "absent"
// sentinel used when super-domain fusion or table projection has to fill
// positions a source was never sampled at.
package types
