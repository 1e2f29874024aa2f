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

// Package dataplane is the client-side data plane of the time-series
// platform: a write pipeline that decomposes, buffers and transmits
// ingestion frames over parallel streams, and a read pipeline that
// streams, correlates and assembles query responses into data tables.
//
// Writing:
//
//	client, err := dataplane.New("platform:9000")
//	if err != nil { ... }
//	defer client.Close()
//
//	tx, err := client.OpenProvider(ctx, "sensor-farm", nil)
//	if err != nil { ... }
//	err = tx.Ingest(ctx, frame)
//	...
//	err = tx.CloseStream(ctx) // drain, then collect acknowledgements
//
// Reading:
//
//	res, err := client.Query(ctx, []string{"temp", "pressure"}, begin, end)
//	if err != nil { ... }
//	if res.IsRejected() {
//		// the platform refused the request; res.Rejected says why
//	}
//	fmt.Println(res.Table)
//
// Behavior is tuned through types.Config (see the config package for
// YAML loading) and per-client functional options.
package dataplane
