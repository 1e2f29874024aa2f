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

package transport

import "context"

// QueryResponseStream is the backward half of a server-streaming query.
type QueryResponseStream interface {
	// Recv blocks for the next response. io.EOF signals normal stream
	// completion.
	Recv() (*QueryResponse, error)
}

// QueryCursorStream is a cursor-driven bidirectional query stream. The
// client owns the forward half: initial request, cursor-next operations
// and cancellation all travel as QueryStreamRequest envelopes.
type QueryCursorStream interface {
	Send(*QueryStreamRequest) error
	Recv() (*QueryResponse, error)
	CloseSend() error
}

// IngestUniStream is a unidirectional ingest stream: requests flow
// forward, one summary with all acknowledgements arrives at termination.
type IngestUniStream interface {
	Send(*IngestRequest) error
	CloseAndRecv() (*IngestSummary, error)
}

// IngestBidiStream is a bidirectional ingest stream acknowledging each
// request inline.
type IngestBidiStream interface {
	Send(*IngestRequest) error
	Recv() (*IngestResponse, error)
	CloseSend() error
}

// QueryServiceClient is the transport collaborator of the query pipeline.
type QueryServiceClient interface {
	// Query opens a server-streaming query.
	Query(ctx context.Context, req *QueryRequest) (QueryResponseStream, error)
	// QueryCursor opens the bidirectional channel; the caller sends the
	// initial request itself.
	QueryCursor(ctx context.Context) (QueryCursorStream, error)
}

// IngestionServiceClient is the transport collaborator of the ingestion
// pipeline.
type IngestionServiceClient interface {
	RegisterProvider(ctx context.Context, req *RegisterProviderRequest) (*RegisterProviderResponse, error)
	IngestUni(ctx context.Context) (IngestUniStream, error)
	IngestBidi(ctx context.Context) (IngestBidiStream, error)
}
