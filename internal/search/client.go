// Package search is a client for a Serper-compatible web search API. It
// returns organic results in the provider's ranking order.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("search/Client")

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("search: query is required")

// Result is one normalized search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
}

// Client calls the search API.
type Client struct {
	BaseURL    string
	APIKey     string
	NumResults int
	HTTP       *http.Client
}

// NewClient returns a Client with a bounded HTTP timeout.
func NewClient(baseURL, apiKey string, numResults int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://google.serper.dev"
	}
	if numResults <= 0 {
		numResults = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		NumResults: numResults,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

type searchReq struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type searchResp struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Position int    `json:"position"`
	} `json:"organic"`
	Message string `json:"message,omitempty"`
}

// Search runs query and returns the organic results unmodified in order.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("search: api key is required")
	}

	ctx, span := tracer.Start(ctx, "Search")
	defer span.End()
	span.SetAttributes(attribute.Int("search.query_len", len(query)))

	b, err := json.Marshal(searchReq{Q: query, Num: c.NumResults})
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		span.SetStatus(codes.Error, msg)
		return nil, fmt.Errorf("search: %s", msg)
	}

	var decoded searchResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("search: decode: %w", err)
	}
	out := make([]Result, 0, len(decoded.Organic))
	for _, r := range decoded.Organic {
		out = append(out, Result{Title: r.Title, Link: r.Link, Snippet: r.Snippet, Date: r.Date})
	}
	span.SetAttributes(attribute.Int("search.results", len(out)))
	return out, nil
}
