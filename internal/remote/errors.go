/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCommandNotFound is returned for names missing from the table.
	ErrCommandNotFound = errors.New("command not found")
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("remote call timed out")
	// ErrClosed is returned once a port or proxy is closed.
	ErrClosed = errors.New("remote boundary closed")
	// ErrReserved is returned by Proxy.Call for listener management names.
	ErrReserved = errors.New("reserved name")
)

// RemoteError is the other side's error envelope.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Command, e.Message)
}

// TimeoutError reports a call that got no answer.
type TimeoutError struct {
	Command string
	CallID  int64
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command %s (call %d) timed out after %v", e.Command, e.CallID, e.After)
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ArgError reports positional arguments that could not be decoded.
type ArgError struct {
	Command string
	Index   int
	Err     error
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %d: %v", e.Command, e.Index, e.Err)
}

func (e *ArgError) Unwrap() error { return e.Err }

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrCommandNotFound, name)
}
