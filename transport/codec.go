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
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/tsdp/dataplane/types"
)

// CodecName is the grpc content subtype the dataplane messages travel as.
const CodecName = "dp-gob"

func init() {
	// Interface-typed fields need their concrete variants registered.
	gob.Register(&types.SamplingClock{})
	gob.Register(&types.TimestampList{})
	gob.Register([]interface{}{})
	gob.Register([]byte{})

	encoding.RegisterCodec(gobCodec{})
}

// gobCodec encodes every dataplane message with encoding/gob. The
// messages are plain Go structs, so gob keeps them self-describing
// without a schema compiler in the loop.
type gobCodec struct{}

func (gobCodec) Name() string { return CodecName }

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("transport: encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("transport: decode %T: %w", v, err)
	}
	return nil
}
