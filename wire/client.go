/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/internal/cache"
	"github.com/blnkfinance/tillsync/internal/request"
	"github.com/blnkfinance/tillsync/model"
)

// CommitResult is the ledger's acknowledgement of one order.
type CommitResult struct {
	ServerOrderID string   `json:"server_order_id"`
	ServerIDs     []string `json:"server_ids,omitempty"`
	// Warning is set when the ledger accepted the order without returning
	// an identifier.
	Warning   string `json:"warning,omitempty"`
	FromCache bool   `json:"-"`
}

type remoteError struct {
	Code    interface{} `json:"code"`
	Message string      `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

type ledgerResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *remoteError    `json:"error"`
}

// Committer submits orders to the ledger.
type Committer interface {
	Commit(ctx context.Context, payload *model.OrderPayload) (*CommitResult, error)
}

// Client talks to the remote ledger over HTTP.
type Client struct {
	baseURL       string
	apiKey        string
	probePath     string
	commitPath    string
	probeTimeout  time.Duration
	submitTimeout time.Duration
	httpClient    *http.Client
	commits       cache.Cache
	commitTTL     time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every call.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithCommitCache remembers committed idempotency tokens so a resubmission
// returns the recorded server id instead of calling the ledger again.
func WithCommitCache(c cache.Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.commits = c
		cl.commitTTL = ttl
	}
}

func NewClient(cfg config.LedgerConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:       cfg.Url,
		apiKey:        cfg.ApiKey,
		probePath:     cfg.ProbePath,
		commitPath:    cfg.CommitPath,
		probeTimeout:  cfg.ProbeTimeoutDuration(),
		submitTimeout: cfg.SubmitTimeoutDuration(),
		httpClient:    &http.Client{},
	}
	if c.probePath == "" {
		c.probePath = config.DEFAULT_PROBE_PATH
	}
	if c.commitPath == "" {
		c.commitPath = config.DEFAULT_COMMIT_PATH
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = config.DEFAULT_PROBE_TIMEOUT * time.Second
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = config.DEFAULT_SUBMIT_TIMEOUT * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var buf *bytes.Buffer
	if body != nil {
		b, err := request.ToJsonReq(body)
		if err != nil {
			return nil, err
		}
		buf = b
	}
	var req *http.Request
	var err error
	if buf != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// Ping is the connectivity probe: a short GET whose JSON reply must not
// carry an error.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, c.probePath, nil)
	if err != nil {
		return err
	}
	var resp map[string]json.RawMessage
	httpResp, err := request.Call(c.httpClient, req, &resp)
	if err != nil {
		return errors.Wrap(err, "ledger probe failed")
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ledger probe returned status %d", httpResp.StatusCode)
	}
	if resp == nil {
		return errors.New("ledger probe returned an empty body")
	}
	if raw, ok := resp["error"]; ok && string(raw) != "null" {
		return fmt.Errorf("ledger probe reported an error: %s", raw)
	}
	return nil
}

func commitKey(token string) string {
	return "tillsync:commit:" + token
}

// Commit submits one order. The ledger's structured error becomes a
// REMOTE_REJECTED api error carrying its human readable message; transport
// failures become CONNECTIVITY errors.
func (c *Client) Commit(ctx context.Context, payload *model.OrderPayload) (*CommitResult, error) {
	if payload == nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "order payload is required", nil)
	}

	if c.commits != nil && payload.IdempotencyToken != "" {
		var cached CommitResult
		if err := c.commits.Get(ctx, commitKey(payload.IdempotencyToken), &cached); err == nil {
			cached.FromCache = true
			return &cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.commitPath, payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "could not encode order payload", err)
	}
	if payload.IdempotencyToken != "" {
		req.Header.Set("Idempotency-Key", payload.IdempotencyToken)
	}

	var resp ledgerResponse
	httpResp, err := request.Call(c.httpClient, req, &resp)
	if err != nil {
		if httpResp != nil && httpResp.StatusCode < http.StatusInternalServerError {
			return nil, apierror.NewAPIError(apierror.ErrRemoteRejected, "ledger returned a malformed response", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrConnectivity, "ledger is unreachable", errors.Wrap(err, "commit order"))
	}

	if resp.Error != nil {
		return nil, apierror.NewAPIError(apierror.ErrRemoteRejected, resp.Error.humanMessage(), nil)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, apierror.NewAPIError(apierror.ErrConnectivity, fmt.Sprintf("ledger returned status %d", httpResp.StatusCode), nil)
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, apierror.NewAPIError(apierror.ErrRemoteRejected, fmt.Sprintf("ledger rejected the order with status %d", httpResp.StatusCode), nil)
	}

	result := &CommitResult{ServerIDs: serverIDs(resp.Result)}
	if len(result.ServerIDs) > 0 {
		result.ServerOrderID = result.ServerIDs[0]
	} else {
		result.Warning = "ledger accepted the order without returning an identifier"
		logrus.WithField("order_id", payload.OrderID).Warn(result.Warning)
	}

	if c.commits != nil && payload.IdempotencyToken != "" {
		if err := c.commits.Set(ctx, commitKey(payload.IdempotencyToken), result, c.commitTTL); err != nil {
			logrus.WithError(err).Warn("could not record committed order")
		}
	}
	return result, nil
}

func (e *remoteError) humanMessage() string {
	switch {
	case e.Data.Message != "":
		return e.Data.Message
	case e.Message != "":
		return e.Message
	default:
		return "the ledger rejected the order"
	}
}

// serverIDs pulls committed identifiers out of the ledger's result, which
// is either a list of records, a single record or a bare id.
func serverIDs(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var ids []string
		for _, item := range list {
			ids = append(ids, serverIDs(item)...)
		}
		return ids
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(raw, &record); err == nil {
		for _, key := range []string{"id", "server_order_id", "order_id"} {
			if v, ok := record[key]; ok {
				if id := scalarID(v); id != "" {
					return []string{id}
				}
			}
		}
		return nil
	}

	if id := scalarID(raw); id != "" {
		return []string{id}
	}
	return nil
}

func scalarID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String()
		}
	}
	return ""
}
