package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client runs commands on a node through POST /api/command/{name}.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

type commandResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Kind   string          `json:"kind"`
	Error  string          `json:"error"`
}

// CommandError is a command failure reported by the node.
type CommandError struct {
	Status int
	Kind   string
	Msg    string
}

func (e *CommandError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, status=%d)", e.Msg, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (status=%d)", e.Msg, e.Status)
}

func NewClient(addr, token string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Run executes command name with body and returns the raw result.
func (c *Client) Run(ctx context.Context, name string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/command/"+name, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var cr commandResponse
	if err := json.Unmarshal(b, &cr); err != nil {
		return nil, fmt.Errorf("decode: %w body=%s", err, string(b))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &CommandError{Status: resp.StatusCode, Kind: cr.Kind, Msg: cr.Error}
	}
	return cr.Result, nil
}
