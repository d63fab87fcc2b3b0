package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kalambet/escalator/internal/client"
	"github.com/kalambet/escalator/internal/config"
)

// newAPIClient builds a client for the locally configured server. Tests
// replace it to point at an httptest server.
var newAPIClient = func() (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return client.New(cfg.BaseURL(), &http.Client{Timeout: 30 * time.Second}), nil
}
