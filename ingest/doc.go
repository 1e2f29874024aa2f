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

// Package ingest implements the ingestion pipeline: the frame processor
// decomposes and converts caller-submitted frames into wire requests and
// feeds the bounded buffer; the transmitter drains the buffer over one or
// more forward streams to the Ingestion Service and keeps the
// acknowledgement ledgers.
//
// Decomposed pieces of one frame carry request ids of the form
// "<frame-id>-<k>/<n>" and are always scheduled on the same stream, so
// the server observes them contiguously per stream.
package ingest
