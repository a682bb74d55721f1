/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"goposter/internal/remote"
)

// Client is a minimal HTTP client for the command API of a running server.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string, token string) *Client {
	b := strings.TrimRight(baseURL, "/")
	return &Client{
		BaseURL: b,
		Token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) (int, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return 0, err
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, fmt.Errorf("server %s %s: %s", method, u.Path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resp.StatusCode, fmt.Errorf("server %s %s: %s: %w", method, u.Path, resp.Status, err)
	}
	return resp.StatusCode, nil
}

// Commands lists the commands the server offers.
func (c *Client) Commands(ctx context.Context) ([]remote.Command, error) {
	var list []remote.Command
	if _, err := c.do(ctx, http.MethodGet, "/api/commands", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Call runs command with positional args and returns its JSON result. A
// failed command yields a *remote.RemoteError.
func (c *Client) Call(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return c.CallRaw(ctx, command, body)
}

// CallRaw runs command with data sent as is, spread the same way as the
// data of a COMMAND message.
func (c *Client) CallRaw(ctx context.Context, command string, data json.RawMessage) (json.RawMessage, error) {
	var reply remote.Message
	if _, err := c.do(ctx, http.MethodPost, "/api/commands/"+url.PathEscape(command), data, &reply); err != nil {
		return nil, err
	}
	if reply.Type != remote.TypeResponse {
		return nil, &remote.RemoteError{Command: command, Message: reply.Error}
	}
	return reply.Data, nil
}
