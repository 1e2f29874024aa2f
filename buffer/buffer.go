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

// Package buffer implements the bounded message buffer backing both
// dataplane pipelines: a typed FIFO with either count-bounded or
// allocation-bounded capacity, optional producer back-pressure and a
// supplying lifecycle (Idle, Supplying, Draining, Terminated).
package buffer

import (
	"errors"
)

// State is the buffer lifecycle state.
type State int32

const (
	// Idle means the buffer has been constructed but not activated.
	Idle State = iota
	// Supplying accepts producers and serves consumers.
	Supplying
	// Draining rejects producers; consumers are served until empty.
	Draining
	// Terminated serves nobody. Residual messages are gone.
	Terminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Supplying:
		return "Supplying"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ErrClosed is returned by Offer when the buffer is not Supplying.
var ErrClosed = errors.New("buffer: queue closed to producers")

// ErrTerminated is returned by Take when the buffer terminated with an
// empty queue.
var ErrTerminated = errors.New("buffer: terminated")

// PollStatus is the result variant of Poll and PollTimeout.
type PollStatus int

const (
	// PollOK means a message was returned.
	PollOK PollStatus = iota
	// PollEmpty means the queue was empty within the deadline.
	PollEmpty
	// PollClosed means the buffer terminated with an empty queue.
	PollClosed
	// PollCanceled means the caller's context was canceled.
	PollCanceled
)
