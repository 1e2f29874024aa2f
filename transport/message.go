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

import (
	"time"

	"github.com/tsdp/dataplane/types"
)

// RegisterProviderRequest registers a data provider with the Ingestion
// Service before any frame is transmitted.
type RegisterProviderRequest struct {
	ProviderName string
	Attributes   map[string]string
}

// RegisterProviderResponse carries the provider unique identifier that is
// stamped into every subsequent ingest request.
type RegisterProviderResponse struct {
	ProviderID string
}

// IngestRequest is the wire-shaped, immutable form of one ingestion frame
// or one decomposed piece of it.
type IngestRequest struct {
	ProviderID      string
	ClientRequestID string
	Timestamps      types.Timestamps
	Columns         []*types.Column
}

// EncodedSize returns the structural serialized size estimate. This is
// the allocation unit for allocation-bounded buffers.
func (r *IngestRequest) EncodedSize() int {
	size := len(r.ProviderID) + len(r.ClientRequestID) + r.Timestamps.EncodedSize()
	for _, col := range r.Columns {
		size += col.EncodedSize()
	}
	return size
}

// IngestResponse is the terminal acknowledgement for one client request
// id: an ack when Exception is nil, otherwise the carried exception.
type IngestResponse struct {
	ClientRequestID string
	Exception       *IngestionException
}

// IsAck reports whether the response acknowledges success.
func (r *IngestResponse) IsAck() bool { return r.Exception == nil }

// IngestionException is the server-side failure attached to one request.
type IngestionException struct {
	Code    int32
	Message string
}

// IngestSummary terminates a unidirectional ingest stream: one response
// per transmitted request, delivered at stream termination.
type IngestSummary struct {
	Responses []*IngestResponse
}

// QueryRequest asks the Query Service for raw bucketed samples of the
// named sources over [Begin, End].
type QueryRequest struct {
	RequestID string
	Sources   []string
	Begin     time.Time
	End       time.Time
}

// CursorOpKind enumerates cursor operations on the bidi query stream.
type CursorOpKind int32

const (
	// CursorNext requests one more response from the server.
	CursorNext CursorOpKind = iota
)

// QueryStreamRequest is the forward-stream envelope of the bidirectional
// query RPC: the initial query, a cursor operation, or a client-side
// cancellation message.
type QueryStreamRequest struct {
	Query        *QueryRequest
	Cursor       *CursorOp
	CancelReason string
}

// CursorOp is a cursor operation message.
type CursorOp struct {
	Kind CursorOpKind
}

// RejectReason classifies a server-side request rejection.
type RejectReason int32

const (
	RejectReasonUnspecified RejectReason = iota
	RejectReasonMalformed
	RejectReasonUnavailable
	RejectReasonTooLarge
)

// String returns the reason name.
func (r RejectReason) String() string {
	switch r {
	case RejectReasonMalformed:
		return "MALFORMED"
	case RejectReasonUnavailable:
		return "UNAVAILABLE"
	case RejectReasonTooLarge:
		return "TOO_LARGE"
	default:
		return "UNSPECIFIED"
	}
}

// RejectDetail is a first-class rejection result, never an error value.
type RejectDetail struct {
	Reason  RejectReason
	Message string
}

// QueryData is one page of raw buckets.
type QueryData struct {
	Buckets []*types.RawBucket
}

// QueryResponse is one message of a query response stream: either a
// rejection marker (first response only) or a page of data.
type QueryResponse struct {
	RequestID string
	Reject    *RejectDetail
	Data      *QueryData
}

// IsReject reports whether the response carries the reject marker.
func (r *QueryResponse) IsReject() bool { return r.Reject != nil }

// EncodedSize returns the structural serialized size of the response.
// Downstream pacing re-measures every message with this instead of
// trusting the first-response page size.
func (r *QueryResponse) EncodedSize() int {
	size := len(r.RequestID) + 2
	if r.Reject != nil {
		size += len(r.Reject.Message) + 4
	}
	if r.Data != nil {
		for _, b := range r.Data.Buckets {
			size += b.EncodedSize()
		}
	}
	return size
}
