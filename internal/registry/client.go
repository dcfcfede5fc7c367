package registry

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
)

// Client talks to the registry that stores agent settings, keyed by server name.
//
// The registry offers no locking. Callers that read, modify and write a record assume they
// are the only writer for that server.
type Client struct {
	Endpoint string
	User     string
	Password string

	HTTPClient *http.Client
}

type readResponse struct {
	Status   string `json:"status"`
	Settings string `json:"settings"`
}

// NewClient returns a registry client with a bounded HTTP timeout.
func NewClient(endpoint, user, password string) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		User:     user,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) settingsURL(serverName string) string {
	return fmt.Sprintf("%s/instances/%s/settings", c.Endpoint, url.PathEscape(serverName))
}

func (c *Client) do(ctx context.Context, method, serverName string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.settingsURL(serverName), reader)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.User != "" || c.Password != "" {
		req.SetBasicAuth(c.User, c.Password)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading registry response: %w", err)
	}
	return resp, data, nil
}

// ReadSettings fetches the settings record of a server.
func (c *Client) ReadSettings(ctx context.Context, serverName string) (Settings, error) {
	resp, body, err := c.do(ctx, http.MethodGet, serverName, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Cannot read settings for `%s', got HTTP %d", serverName, resp.StatusCode)
	}

	var envelope readResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("Cannot parse settings for `%s': %w", serverName, err)
	}
	if envelope.Status != "ok" {
		return nil, fmt.Errorf("Cannot read settings for `%s', status is `%s'", serverName, envelope.Status)
	}

	settings := Settings{}
	if err := json.Unmarshal([]byte(envelope.Settings), &settings); err != nil {
		return nil, fmt.Errorf("Invalid settings format for `%s': %w", serverName, err)
	}
	// A "null" record decodes to a nil map.
	if settings == nil {
		settings = Settings{}
	}
	return settings, nil
}

// UpdateSettings stores the full settings record of a server.
func (c *Client) UpdateSettings(ctx context.Context, serverName string, settings Settings) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	resp, _, err := c.do(ctx, http.MethodPut, serverName, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Cannot update settings for `%s', got HTTP %d", serverName, resp.StatusCode)
	}
	return nil
}

// DeleteSettings removes the settings record of a server.
func (c *Client) DeleteSettings(ctx context.Context, serverName string) error {
	resp, _, err := c.do(ctx, http.MethodDelete, serverName, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("Cannot delete settings for `%s', got HTTP %d", serverName, resp.StatusCode)
	}
	return nil
}
