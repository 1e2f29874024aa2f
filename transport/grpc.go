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
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Full method names of the four server endpoints.
const (
	MethodQuery            = "/dp.query.QueryService/Query"
	MethodQueryCursor      = "/dp.query.QueryService/QueryCursor"
	MethodRegisterProvider = "/dp.ingestion.IngestionService/RegisterProvider"
	MethodIngestUni        = "/dp.ingestion.IngestionService/IngestUni"
	MethodIngestBidi       = "/dp.ingestion.IngestionService/IngestBidi"
)

var (
	queryStreamDesc = &grpc.StreamDesc{
		StreamName:    "Query",
		ServerStreams: true,
	}
	queryCursorDesc = &grpc.StreamDesc{
		StreamName:    "QueryCursor",
		ServerStreams: true,
		ClientStreams: true,
	}
	ingestUniDesc = &grpc.StreamDesc{
		StreamName:    "IngestUni",
		ClientStreams: true,
	}
	ingestBidiDesc = &grpc.StreamDesc{
		StreamName:    "IngestBidi",
		ServerStreams: true,
		ClientStreams: true,
	}
)

// ChannelOptions tunes the underlying grpc channel.
type ChannelOptions struct {
	// KeepaliveTime is the interval between client keepalive pings.
	KeepaliveTime time.Duration
	// KeepaliveTimeout is how long a ping may go unacknowledged.
	KeepaliveTimeout time.Duration
	// MaxRecvMsgSize caps inbound message sizes in bytes.
	MaxRecvMsgSize int
	// MaxSendMsgSize caps outbound message sizes in bytes.
	MaxSendMsgSize int
	// InitialWindowSize is the per-stream flow-control window.
	InitialWindowSize int32
	// InitialConnWindowSize is the per-connection flow-control window.
	InitialConnWindowSize int32
}

// DefaultChannelOptions returns the options used when none are supplied.
func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{
		KeepaliveTime:         30 * time.Second,
		KeepaliveTimeout:      5 * time.Second,
		MaxRecvMsgSize:        64 * 1024 * 1024,
		MaxSendMsgSize:        32 * 1024 * 1024,
		InitialWindowSize:     4 * 1024 * 1024,
		InitialConnWindowSize: 8 * 1024 * 1024,
	}
}

// Conn wraps one grpc client connection shared by both service clients.
type Conn struct {
	cc *grpc.ClientConn
}

// Dial connects to a Data Platform endpoint with the dataplane codec.
func Dial(endpoint string, opts ChannelOptions) (*Conn, error) {
	cc, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepaliveTime,
			Timeout:             opts.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithInitialWindowSize(opts.InitialWindowSize),
		grpc.WithInitialConnWindowSize(opts.InitialConnWindowSize),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(opts.MaxRecvMsgSize),
			grpc.MaxCallSendMsgSize(opts.MaxSendMsgSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	return &Conn{cc: cc}, nil
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.cc.Close()
}

// QueryClient returns the query-side client over this connection.
func (c *Conn) QueryClient() QueryServiceClient { return &grpcQueryClient{cc: c.cc} }

// IngestionClient returns the ingestion-side client over this connection.
func (c *Conn) IngestionClient() IngestionServiceClient { return &grpcIngestionClient{cc: c.cc} }

type grpcQueryClient struct {
	cc *grpc.ClientConn
}

func (q *grpcQueryClient) Query(ctx context.Context, req *QueryRequest) (QueryResponseStream, error) {
	cs, err := q.cc.NewStream(ctx, queryStreamDesc, MethodQuery)
	if err != nil {
		return nil, MapError(err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, MapError(err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, MapError(err)
	}
	return &grpcQueryResponseStream{cs: cs}, nil
}

func (q *grpcQueryClient) QueryCursor(ctx context.Context) (QueryCursorStream, error) {
	cs, err := q.cc.NewStream(ctx, queryCursorDesc, MethodQueryCursor)
	if err != nil {
		return nil, MapError(err)
	}
	return &grpcQueryCursorStream{cs: cs}, nil
}

type grpcQueryResponseStream struct {
	cs grpc.ClientStream
}

func (s *grpcQueryResponseStream) Recv() (*QueryResponse, error) {
	m := new(QueryResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type grpcQueryCursorStream struct {
	cs grpc.ClientStream
}

func (s *grpcQueryCursorStream) Send(req *QueryStreamRequest) error {
	return s.cs.SendMsg(req)
}

func (s *grpcQueryCursorStream) Recv() (*QueryResponse, error) {
	m := new(QueryResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *grpcQueryCursorStream) CloseSend() error { return s.cs.CloseSend() }

type grpcIngestionClient struct {
	cc *grpc.ClientConn
}

func (i *grpcIngestionClient) RegisterProvider(ctx context.Context, req *RegisterProviderRequest) (*RegisterProviderResponse, error) {
	resp := new(RegisterProviderResponse)
	if err := i.cc.Invoke(ctx, MethodRegisterProvider, req, resp); err != nil {
		return nil, MapError(err)
	}
	return resp, nil
}

func (i *grpcIngestionClient) IngestUni(ctx context.Context) (IngestUniStream, error) {
	cs, err := i.cc.NewStream(ctx, ingestUniDesc, MethodIngestUni)
	if err != nil {
		return nil, MapError(err)
	}
	return &grpcIngestUniStream{cs: cs}, nil
}

func (i *grpcIngestionClient) IngestBidi(ctx context.Context) (IngestBidiStream, error) {
	cs, err := i.cc.NewStream(ctx, ingestBidiDesc, MethodIngestBidi)
	if err != nil {
		return nil, MapError(err)
	}
	return &grpcIngestBidiStream{cs: cs}, nil
}

type grpcIngestUniStream struct {
	cs grpc.ClientStream
}

func (s *grpcIngestUniStream) Send(req *IngestRequest) error {
	return s.cs.SendMsg(req)
}

func (s *grpcIngestUniStream) CloseAndRecv() (*IngestSummary, error) {
	if err := s.cs.CloseSend(); err != nil {
		return nil, err
	}
	m := new(IngestSummary)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type grpcIngestBidiStream struct {
	cs grpc.ClientStream
}

func (s *grpcIngestBidiStream) Send(req *IngestRequest) error {
	return s.cs.SendMsg(req)
}

func (s *grpcIngestBidiStream) Recv() (*IngestResponse, error) {
	m := new(IngestResponse)
	if err := s.cs.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *grpcIngestBidiStream) CloseSend() error { return s.cs.CloseSend() }
