package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/zulandar/switchboard/internal/config"
)

// apiCall sends a request to the daemon's status API and returns the raw
// response body. A connection error is reported as errDaemonDown so callers
// can fall back to direct database access where that makes sense.
func apiCall(cfg *config.Config, method, path string) ([]byte, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Status.Port, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		if isConnRefused(err) {
			return nil, errDaemonDown
		}
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return nil, fmt.Errorf("api: %s", payload.Error)
		}
		return nil, fmt.Errorf("api: %s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

var errDaemonDown = fmt.Errorf("api: daemon is not reachable")

func isConnRefused(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
