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
	"bytes"
	"context"
	"encoding/json"
)

// Arg decodes positional argument i into T. Missing and null arguments yield
// the zero value.
func Arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, nil
	}
	if raw := bytes.TrimSpace(args[i]); len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, &ArgError{Index: i, Err: err}
	}
	return v, nil
}

// Func0 binds a command without arguments.
func Func0[R any](fn func(context.Context) (R, error)) Handler {
	return func(ctx context.Context, _ []json.RawMessage) (any, error) {
		return fn(ctx)
	}
}

// Func1 binds a one-argument command.
func Func1[A, R any](fn func(context.Context, A) (R, error)) Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		a, err := Arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
}

// Func2 binds a two-argument command.
func Func2[A, B, R any](fn func(context.Context, A, B) (R, error)) Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		a, err := Arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
}

// Func3 binds a three-argument command.
func Func3[A, B, C, R any](fn func(context.Context, A, B, C) (R, error)) Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		a, err := Arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		c, err := Arg[C](args, 2)
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b, c)
	}
}

// Action0 binds a command without arguments or result.
func Action0(fn func(context.Context) error) Handler {
	return func(ctx context.Context, _ []json.RawMessage) (any, error) {
		return nil, fn(ctx)
	}
}

// Action1 binds a one-argument command without result.
func Action1[A any](fn func(context.Context, A) error) Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		a, err := Arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, a)
	}
}

// Action2 binds a two-argument command without result.
func Action2[A, B any](fn func(context.Context, A, B) error) Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		a, err := Arg[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := Arg[B](args, 1)
		if err != nil {
			return nil, err
		}
		return nil, fn(ctx, a, b)
	}
}
