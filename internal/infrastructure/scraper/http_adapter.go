package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"AdRelister/internal/config"
	"AdRelister/internal/domain"
	"AdRelister/internal/ports"
)

// HTTPAdapter drives a browser-automation sidecar over JSON.
type HTTPAdapter struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger
}

var _ ports.ScraperAdapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates a reusable HTTP client for the sidecar.
func NewHTTPAdapter(cfg config.ScraperConfig, client *http.Client, logger *slog.Logger) *HTTPAdapter {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPAdapter{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     client,
		logger:   logger,
	}
}

// Name identifies the adapter inside the registry.
func (a *HTTPAdapter) Name() string {
	return "http"
}

// Login opens a marketplace session in the sidecar.
func (a *HTTPAdapter) Login(ctx context.Context) (ports.ScraperSession, error) {
	if a.baseURL == "" {
		return nil, fmt.Errorf("scraper base url is not configured")
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	payload := map[string]any{
		"username": a.username,
		"password": a.password,
	}
	if err := a.post(ctx, "/session/login", payload, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("login returned no session id")
	}

	a.logger.Debug("sidecar session opened", "session_id", resp.SessionID)
	return &httpSession{adapter: a, id: resp.SessionID}, nil
}

type httpSession struct {
	adapter *HTTPAdapter
	id      string
}

func (s *httpSession) ReAdvertise(ctx context.Context, item domain.BatchItem, listing domain.Listing) (domain.ItemResult, error) {
	return s.itemCall(ctx, "readvertise", map[string]any{
		"itemId":  item.ID,
		"listing": listing,
	})
}

func (s *httpSession) ReUpload(ctx context.Context, item domain.BatchItem, listing domain.Listing, price, rent *int64) (domain.ItemResult, error) {
	return s.itemCall(ctx, "reupload", map[string]any{
		"itemId":  item.ID,
		"listing": listing,
		"price":   price,
		"rent":    rent,
	})
}

func (s *httpSession) Close(ctx context.Context) error {
	return s.adapter.post(ctx, s.path("close"), nil, nil)
}

func (s *httpSession) path(action string) string {
	return "/session/" + url.PathEscape(s.id) + "/" + action
}

// itemCall maps sidecar answers onto the item/session error boundary: a decoded result or a 422
// concerns the item, anything else means the session can no longer be trusted.
func (s *httpSession) itemCall(ctx context.Context, action string, payload any) (domain.ItemResult, error) {
	var result domain.ItemResult
	err := s.adapter.post(ctx, s.path(action), payload, &result)
	var rejected *rejection
	switch {
	case errors.As(err, &rejected):
		return domain.Failed(rejected.message), nil
	case err != nil:
		return domain.ItemResult{}, err
	}
	return result, nil
}

// rejection is a sidecar answer that concerns only the current item.
type rejection struct {
	message string
}

func (r *rejection) Error() string { return "item rejected: " + r.message }

func (a *HTTPAdapter) post(ctx context.Context, path string, payload any, v any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&failure)
		if failure.Error == "" {
			failure.Error = "rejected by marketplace"
		}
		return &rejection{message: failure.Error}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %s: %s", path, resp.Status, strings.TrimSpace(string(snippet)))
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
