// Package share provides session sharing functionality for ted.
// It allows sharing conversation sessions via a URL, mirroring opencode's share feature.
package share

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultShareURL is the default sharing service URL
	DefaultShareURL = "https://opncd.ai"

	// ShareAPIPath is the API path for session sharing
	ShareAPIPath = "/api/share"
)

// SharedSession represents a session that has been shared
type SharedSession struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ShareRequest is the payload sent to the sharing service
type ShareRequest struct {
	Session  interface{}   `json:"session"`
	Messages []interface{} `json:"messages"`
}

// Client handles communication with the sharing service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new sharing client
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultShareURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Share shares a session and returns the public URL
func (c *Client) Share(session interface{}, messages []interface{}) (*SharedSession, error) {
	payload := ShareRequest{
		Session:  session,
		Messages: messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal share request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+ShareAPIPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create share request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ted/2.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to share session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("share service returned status %d", resp.StatusCode)
	}

	var shared SharedSession
	if err := json.NewDecoder(resp.Body).Decode(&shared); err != nil {
		return nil, fmt.Errorf("failed to decode share response: %w", err)
	}

	return &shared, nil
}

// Delete removes a shared session
func (c *Client) Delete(shareID string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+ShareAPIPath+"/"+shareID, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}

	req.Header.Set("User-Agent", "ted/2.0.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("share service returned status %d", resp.StatusCode)
	}

	return nil
}

// GenerateLocalShare creates a local shareable JSON file for offline sharing
func GenerateLocalShare(session interface{}, messages []interface{}, outputPath string) error {
	payload := map[string]interface{}{
		"session":    session,
		"messages":   messages,
		"created_at": time.Now().UTC(),
		"version":    "2.0.0",
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	import_file := outputPath
	if import_file == "" {
		import_file = fmt.Sprintf("ted-share-%d.json", time.Now().Unix())
	}

	return os.WriteFile(import_file, data, 0644)
}
