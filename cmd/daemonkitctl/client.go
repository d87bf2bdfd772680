package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// apiClient is a minimal HTTP client for a daemon's httpapi stats plugin.
// Grounded on the teacher's own cmd/provisr/client.go APIClient shape,
// trimmed to the two read-only endpoints httpapi exposes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("daemonkitctl: request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemonkitctl: %s returned %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
