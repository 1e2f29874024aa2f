package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tsdp/dataplane/types"
)

func TestCodec_PreservesDescriptorVariants(t *testing.T) {
	clock, err := types.NewSamplingClock(time.Unix(100, 0).UTC(), 10*time.Millisecond, 3)
	require.NoError(t, err)

	req := &IngestRequest{
		ProviderID:      "prv-1",
		ClientRequestID: "req-1",
		Timestamps:      clock,
		Columns: []*types.Column{
			types.NewColumn("s1", types.ValueTypeFloat64, []interface{}{1.0, 2.0, 3.0}),
		},
	}

	c := gobCodec{}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	out := new(IngestRequest)
	require.NoError(t, c.Unmarshal(data, out))
	assert.Equal(t, "req-1", out.ClientRequestID)
	require.IsType(t, &types.SamplingClock{}, out.Timestamps)
	assert.True(t, out.Timestamps.Equal(clock))
	require.Len(t, out.Columns, 1)
	assert.Equal(t, 2.0, out.Columns[0].Values[1])
}

func TestQueryResponse_EncodedSizePerMessage(t *testing.T) {
	clock, err := types.NewSamplingClock(time.Unix(0, 0).UTC(), time.Second, 2)
	require.NoError(t, err)

	small := &QueryResponse{RequestID: "q", Data: &QueryData{Buckets: []*types.RawBucket{
		{Source: "a", Type: types.ValueTypeFloat64, Timestamps: clock, Values: []interface{}{1.0, 2.0}},
	}}}
	large := &QueryResponse{RequestID: "q", Data: &QueryData{Buckets: []*types.RawBucket{
		{Source: "a", Type: types.ValueTypeFloat64, Timestamps: clock, Values: []interface{}{1.0, 2.0}},
		{Source: "b", Type: types.ValueTypeFloat64, Timestamps: clock, Values: []interface{}{3.0, 4.0}},
	}}}

	// sizes are measured per message, not inherited from the first one
	assert.Greater(t, large.EncodedSize(), small.EncodedSize())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{name: "deadline", in: status.Error(codes.DeadlineExceeded, "late"), want: ErrTimeout},
		{name: "canceled", in: status.Error(codes.Canceled, "gone"), want: ErrCanceled},
		{name: "unavailable", in: status.Error(codes.Unavailable, "down"), want: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, MapError(tt.in), tt.want)
		})
	}

	assert.NoError(t, MapError(nil))
	other := status.Error(codes.Internal, "boom")
	assert.Equal(t, other, MapError(other))
}
