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

// Package transport carries the wire messages of the Data Platform and
// the grpc client plumbing for its two services.
//
// The core pipelines depend only on the small client interfaces declared
// here (QueryServiceClient, IngestionServiceClient) and on the message
// structs; tests substitute fakes. Conn is the production implementation
// over a grpc.ClientConn with a registered gob codec, so every message is
// self-describing and the core never touches wire bytes.
package transport
