// Package otaconfig fetches the MQTT broker and activation-code
// configuration a session needs before its first WebSocket connect,
// grounded on original_source/src/core/fetch_config.h's Config/
// GetConfigFromServer, using the net/http.Client-with-explicit-timeout
// convention this codebase uses for outbound HTTP calls.
package otaconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// Mqtt mirrors Config::Mqtt in the original.
type Mqtt struct {
	Endpoint       string `json:"endpoint"`
	ClientID       string `json:"client_id"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	PublishTopic   string `json:"publish_topic"`
	SubscribeTopic string `json:"subscribe_topic"`
}

// Activation mirrors Config::Activation in the original.
type Activation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Config is the document a device fetches once before connecting,
// mirroring fetch_config.h's Config struct exactly.
type Config struct {
	Mqtt       Mqtt       `json:"mqtt"`
	Activation Activation `json:"activation"`
}

type deviceRequest struct {
	UUID string `json:"uuid"`
}

// Fetch issues a POST of the device uuid to url and parses the response
// as Config, matching GetConfigFromServer. A null or empty response body
// is treated as "no config" and reported as an error — the caller maps
// that to the LoadingProtocolFailed transition.
func Fetch(ctx context.Context, client *http.Client, url, uuid string) (*Config, error) {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	body, err := json.Marshal(deviceRequest{UUID: uuid})
	if err != nil {
		return nil, fmt.Errorf("encode device request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read config response: %w", err)
	}
	if len(bytes.TrimSpace(respBody)) == 0 || string(bytes.TrimSpace(respBody)) == "null" {
		return nil, fmt.Errorf("fetch config: empty response")
	}

	var cfg Config
	if err := json.Unmarshal(respBody, &cfg); err != nil {
		return nil, fmt.Errorf("decode config response: %w", err)
	}
	return &cfg, nil
}
