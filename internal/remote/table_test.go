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
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestSpreadArgs(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"null", nil},
		{" [1, \"a\", {\"x\":1}] ", []string{"1", `"a"`, `{"x":1}`}},
		{`{"color":"red"}`, []string{`{"color":"red"}`}},
		{`"#fff"`, []string{`"#fff"`}},
		{"[]", []string{}},
	}
	for _, c := range cases {
		got, err := SpreadArgs(json.RawMessage(c.in))
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if len(got) != len(c.want) {
			t.Fatalf("%q: got %d args, want %d", c.in, len(got), len(c.want))
		}
		for i := range got {
			if string(got[i]) != c.want[i] {
				t.Fatalf("%q: arg %d = %s, want %s", c.in, i, got[i], c.want[i])
			}
		}
	}
	if _, err := SpreadArgs(json.RawMessage("[1,")); err == nil {
		t.Fatal("expected error for broken array")
	}
}

func TestTableRegisterAndInvoke(t *testing.T) {
	tb := NewTable()
	type opts struct {
		Fill string `json:"fill"`
	}
	tb.MustRegister(
		Command{Name: "add", Handler: Func2(func(_ context.Context, a, b int) (int, error) { return a + b, nil })},
		Command{Name: "style", Handler: Func1(func(_ context.Context, o opts) (string, error) { return o.Fill, nil })},
		Command{Name: "noop", Handler: Action0(func(context.Context) error { return nil })},
	)
	if err := tb.Register(Command{Name: "add", Handler: Action0(func(context.Context) error { return nil })}); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := tb.Register(Command{Name: "nil"}); err == nil {
		t.Fatal("command without handler accepted")
	}
	if got := tb.Names(); !reflect.DeepEqual(got, []string{"add", "noop", "style"}) {
		t.Fatalf("names = %v", got)
	}

	ctx := context.Background()
	res, err := tb.Invoke(ctx, "add", json.RawMessage(`[2,3]`))
	if err != nil || res.(int) != 5 {
		t.Fatalf("add = %v, %v", res, err)
	}
	// missing arguments are zero values
	if res, _ := tb.Invoke(ctx, "add", json.RawMessage(`[7]`)); res.(int) != 7 {
		t.Fatalf("add with one arg = %v", res)
	}
	// a non-array is a single argument
	if res, _ := tb.Invoke(ctx, "style", json.RawMessage(`{"fill":"red"}`)); res.(string) != "red" {
		t.Fatalf("style = %v", res)
	}
	if res, err := tb.Invoke(ctx, "noop", nil); res != nil || err != nil {
		t.Fatalf("noop = %v, %v", res, err)
	}

	_, err = tb.Invoke(ctx, "add", json.RawMessage(`["x"]`))
	var ae *ArgError
	if !errors.As(err, &ae) || ae.Command != "add" || ae.Index != 0 {
		t.Fatalf("expected ArgError for add/0, got %v", err)
	}
	_, err = tb.Invoke(ctx, "missing", nil)
	if !errors.Is(err, ErrCommandNotFound) || err.Error() != "command not found: missing" {
		t.Fatalf("missing = %v", err)
	}
}

func TestDecode(t *testing.T) {
	good := `{"type":"COMMAND","command":"getObjects","callId":3}`
	m, err := Decode([]byte(good))
	if err != nil || m.Command != "getObjects" || m.CallID == nil || *m.CallID != 3 {
		t.Fatalf("decode = %+v, %v", m, err)
	}
	for _, bad := range []string{
		`not json`,
		`{"command":"x"}`,
		`{"type":"COMMAND"}`,
		`{"type":"EVENT"}`,
		`{"type":"HELLO","command":"x"}`,
		`[1,2]`,
	} {
		if _, err := Decode([]byte(bad)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: err = %v", bad, err)
		}
	}
}
