package main

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

	"satya.ledger/sl/internal/ledger"
	"satya.ledger/sl/internal/types"
)

// apiError is a non-2xx response from the ledger API.
type apiError struct {
	Status  int
	Message string `json:"error"`
	Reason  string `json:"reason"`
}

func (e *apiError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Reason, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

type participantsResponse struct {
	ProposerRole types.Role          `json:"proposer_role"`
	Quorum       int                 `json:"quorum"`
	Participants []types.Participant `json:"participants"`
}

type listResponse struct {
	Count        int                 `json:"count"`
	Offset       int                 `json:"offset"`
	Transactions []types.Transaction `json:"transactions"`
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact ledger at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) participants(ctx context.Context) (participantsResponse, error) {
	var out participantsResponse
	err := c.do(ctx, http.MethodGet, "/api/participants", nil, &out)
	return out, err
}

func (c *client) create(ctx context.Context, req ledger.CreateRequest) (types.Transaction, error) {
	var tx types.Transaction
	err := c.do(ctx, http.MethodPost, "/api/transactions", req, &tx)
	return tx, err
}

func (c *client) approve(ctx context.Context, id, voter string) (types.Transaction, error) {
	var tx types.Transaction
	err := c.do(ctx, http.MethodPost, "/api/transactions/"+url.PathEscape(id)+"/approve",
		map[string]string{"voter": voter}, &tx)
	return tx, err
}

func (c *client) hasVoted(ctx context.Context, id, addr string) (bool, error) {
	var out struct {
		Voted bool `json:"voted"`
	}
	err := c.do(ctx, http.MethodGet,
		"/api/transactions/"+url.PathEscape(id)+"/votes/"+url.PathEscape(addr), nil, &out)
	return out.Voted, err
}

func (c *client) votingStatus(ctx context.Context, id string) (ledger.VoteReport, error) {
	var rep ledger.VoteReport
	err := c.do(ctx, http.MethodGet, "/api/transactions/"+url.PathEscape(id)+"/votes", nil, &rep)
	return rep, err
}

func (c *client) transaction(ctx context.Context, id string) (types.Transaction, error) {
	var tx types.Transaction
	err := c.do(ctx, http.MethodGet, "/api/transactions/"+url.PathEscape(id), nil, &tx)
	return tx, err
}

func (c *client) list(ctx context.Context, offset, limit int) (listResponse, error) {
	var out listResponse
	path := fmt.Sprintf("/api/transactions?offset=%d&limit=%d", offset, limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}
