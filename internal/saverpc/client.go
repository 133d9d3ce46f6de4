// Package saverpc is the HTTP client side of the answers API.
package saverpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"formsave/internal/answers/model"
	"formsave/internal/autosave"
)

type Client struct {
	BaseURL string
	Token   string
	client  *http.Client
}

// NewClient talks to the server at baseURL, authenticating with a bearer
// token. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  httpClient,
	}
}

// Save sends one save request. Every HTTP response maps to an Outcome; only a
// request that produced no readable response returns an error.
func (c *Client) Save(ctx context.Context, docID string, req model.SaveRequest) (autosave.Outcome, error) {
	resp, err := c.do(ctx, http.MethodPatch, c.answersPath(docID), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		var conflict model.ConflictResponse
		if err := json.Unmarshal(body, &conflict); err != nil || !conflict.Conflict {
			return autosave.Failed{Message: failureMessage(resp.StatusCode, body)}, nil
		}
		return autosave.Conflicted{Latest: conflict.Latest}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var saved model.SaveResponse
		if err := json.Unmarshal(body, &saved); err != nil || !saved.OK {
			return autosave.Failed{Message: failureMessage(resp.StatusCode, body)}, nil
		}
		return autosave.Saved{NewVersion: saved.NewVersion}, nil
	}
	return autosave.Failed{Message: failureMessage(resp.StatusCode, body)}, nil
}

// Load fetches the current state of a document for the first render.
func (c *Client) Load(ctx context.Context, docID string) (*model.Document, error) {
	var doc model.Document
	if err := c.call(ctx, http.MethodGet, c.answersPath(docID), nil, http.StatusOK, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create starts a new document owned by the token's subject.
func (c *Client) Create(ctx context.Context, initial model.Answers) (*model.Document, error) {
	var doc model.Document
	req := model.CreateDocRequest{Answers: initial}
	if err := c.call(ctx, http.MethodPost, "/api/sessions", req, http.StatusCreated, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// WatchURL is the websocket address of a document's version feed.
func (c *Client) WatchURL(docID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/sessions/" + url.PathEscape(docID)
	u.RawQuery = url.Values{"token": {c.Token}}.Encode()
	return u.String(), nil
}

func (c *Client) answersPath(docID string) string {
	return "/api/sessions/" + url.PathEscape(docID) + "/answers"
}

func (c *Client) call(ctx context.Context, method, path string, in any, wantStatus int, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, failureMessage(resp.StatusCode, body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

// failureMessage prefers the server's {message}; bodies without one fall
// back to the status text.
func failureMessage(status int, body []byte) string {
	var e model.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
