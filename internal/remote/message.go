/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package remote carries editor commands and events across a message
// boundary: the command table, the wire envelope, boundary ports, the inbound
// dispatcher and the outbound proxy.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types.
const (
	TypeCommand  = "COMMAND"
	TypeResponse = "RESPONSE"
	TypeError    = "ERROR"
	TypeEvent    = "EVENT"
)

// Message is the envelope exchanged across the boundary.
type Message struct {
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	CallID  *int64          `json:"callId,omitempty"`
}

// ErrMalformed wraps every Decode failure.
var ErrMalformed = errors.New("malformed message")

// Decode parses and shape-checks an envelope.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch m.Type {
	case TypeCommand, TypeResponse, TypeError:
		if m.Command == "" {
			return Message{}, fmt.Errorf("%w: %s without command", ErrMalformed, m.Type)
		}
	case TypeEvent:
		if m.Event == "" {
			return Message{}, fmt.Errorf("%w: EVENT without event name", ErrMalformed)
		}
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return m, nil
}

// Encode returns the JSON form of m.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// marshalData encodes v as message data; a nil value becomes JSON null.
func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func callID(id int64) *int64 { return &id }

// Reply builds the answer to command: a RESPONSE carrying res, or an ERROR
// carrying the message of err. A result that cannot be encoded is an ERROR.
func Reply(command string, id *int64, res any, err error) Message {
	var cid *int64
	if id != nil {
		cid = callID(*id)
	}
	if err == nil {
		var data json.RawMessage
		if data, err = marshalData(res); err == nil {
			return Message{Type: TypeResponse, Command: command, Data: data, CallID: cid}
		}
	}
	return Message{Type: TypeError, Command: command, Error: err.Error(), CallID: cid}
}
