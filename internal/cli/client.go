package cli

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dpolat/pagelift/internal/config"
)

// controlClient talks to a running daemon's control server.
type controlClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

func newControlClient() (*controlClient, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}

	return &controlClient{
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Control.Host, cfg.Control.Port),
		secret:  cfg.Control.Secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *controlClient) do(method, path string) (string, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	if c.secret != "" {
		req.Header.Set("X-Pagelift-Secret", c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("control server returned %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

func (c *controlClient) get(path string) (string, error) {
	return c.do(http.MethodGet, path)
}

func (c *controlClient) post(path string) (string, error) {
	return c.do(http.MethodPost, path)
}
