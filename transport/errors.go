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
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Transport transient errors. The core surfaces these to the caller and
// never retries them on its own.
var (
	ErrTimeout     = errors.New("transport: deadline exceeded")
	ErrCanceled    = errors.New("transport: canceled")
	ErrUnavailable = errors.New("transport: service unavailable")
)

// MapError folds grpc status codes and context errors into the transport
// error taxonomy, keeping the original message as a wrapped detail.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", ErrTimeout, st.Message())
		case codes.Canceled:
			return fmt.Errorf("%w: %s", ErrCanceled, st.Message())
		case codes.Unavailable:
			return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
		}
	}
	return err
}
