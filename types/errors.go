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

import "fmt"

// MalformedBucketError reports a raw bucket whose value column length does
// not match its timestamp count, or whose descriptor is otherwise unusable.
// The offending bucket is skipped; processing continues.
type MalformedBucketError struct {
	Source    string
	RequestID string
	Reason    string
}

func (e *MalformedBucketError) Error() string {
	return fmt.Sprintf("malformed bucket source=%q request=%q: %s", e.Source, e.RequestID, e.Reason)
}

// InconsistentSourceTypeError reports a source whose declared primitive
// type differs between blocks of one aggregate.
type InconsistentSourceTypeError struct {
	Source string
	Want   ValueType
	Got    ValueType
}

func (e *InconsistentSourceTypeError) Error() string {
	return fmt.Sprintf("inconsistent type for source %q: %s vs %s", e.Source, e.Want, e.Got)
}

// AggregateIntegrityError reports an aggregate that violates ordering or
// disjointness after super-domain fusion. It is fatal to the query build.
type AggregateIntegrityError struct {
	Reason string
}

func (e *AggregateIntegrityError) Error() string {
	return fmt.Sprintf("aggregate integrity violated: %s", e.Reason)
}
