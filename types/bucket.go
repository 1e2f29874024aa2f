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

package types

// RawBucket is a single-source, contiguously sampled piece of a query
// result as returned by the Query Service.
type RawBucket struct {
	// Source is the name of the sampled source.
	Source string
	// Type is the primitive type of every value in the bucket.
	Type ValueType
	// Timestamps describes the bucket's sampling instants.
	Timestamps Timestamps
	// Values holds one sample per instant.
	Values []interface{}
}

// Validate checks the bucket invariant: value count equals timestamp
// count. Violations surface as MalformedBucketError attached to the
// source name.
func (b *RawBucket) Validate(requestID string) error {
	if b.Source == "" {
		return &MalformedBucketError{RequestID: requestID, Reason: "empty source name"}
	}
	if b.Timestamps == nil || b.Timestamps.Count() == 0 {
		return &MalformedBucketError{Source: b.Source, RequestID: requestID, Reason: "empty timestamp descriptor"}
	}
	if len(b.Values) != b.Timestamps.Count() {
		return &MalformedBucketError{
			Source:    b.Source,
			RequestID: requestID,
			Reason:    "value count does not match timestamp count",
		}
	}
	return nil
}

// EncodedSize returns the structural wire size estimate of the bucket.
func (b *RawBucket) EncodedSize() int {
	col := Column{Name: b.Source, Type: b.Type, Values: b.Values}
	size := col.EncodedSize()
	if b.Timestamps != nil {
		size += b.Timestamps.EncodedSize()
	}
	return size
}
