// Package sapclient implements the SAP B1 Service Layer HTTP client with
// session management, response caching, and a demo mode.
package sapclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sapassist/pkg/config"
	"sapassist/pkg/logx"
	"sapassist/pkg/saperr"
)

// Result is a parsed Service Layer response.
type Result struct {
	Records  []map[string]any
	Count    int  // Total count when requested via $count=true or /$count
	HasCount bool // True when Count is meaningful
	Raw      []byte
}

type cacheEntry struct {
	result  *Result
	expires time.Time
}

// Client talks to the Service Layer. Safe for concurrent use.
type Client struct {
	baseURL    string
	companyDB  string
	username   string
	password   string
	httpClient *http.Client
	sessionTTL time.Duration
	cacheTTL   time.Duration
	demo       bool
	logger     *logx.Logger

	mu            sync.Mutex
	sessionCookie string
	routeCookie   string
	csrfToken     string
	sessionExpiry time.Time

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// New creates a client from configuration. The password comes from the
// secrets layer, not the config file.
func New(cfg *config.SAPConfig, password string) *Client {
	transport := &http.Transport{}
	if !cfg.VerifyTLS {
		//nolint:gosec // Service Layer installs routinely use self-signed certs
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		companyDB:  cfg.CompanyDB,
		username:   cfg.Username,
		password:   password,
		sessionTTL: cfg.SessionTTL,
		cacheTTL:   cfg.CacheTTL,
		demo:       cfg.DemoMode,
		logger:     logx.NewLogger("sapclient"),
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		cache: make(map[string]cacheEntry),
	}
}

// DemoMode reports whether the client serves canned data.
func (c *Client) DemoMode() bool {
	return c.demo
}

// Login opens a Service Layer session and records the session cookies.
func (c *Client) Login(ctx context.Context) error {
	if c.demo {
		c.logger.Info("demo mode, skipping Service Layer login")
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"CompanyDB": c.companyDB,
		"UserName":  c.username,
		"Password":  c.password,
	})
	if err != nil {
		return saperr.Wrap(saperr.CodeAuth, "login", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Login", bytes.NewReader(body))
	if err != nil {
		return saperr.Wrap(saperr.CodeAuth, "login", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return saperr.Wrap(saperr.CodeConnection, "login", err).AsRetryable()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return saperr.New(saperr.CodeAuth, "login",
			fmt.Sprintf("login failed with status %d: %s", resp.StatusCode, extractErrorMessage(data)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case "B1SESSION":
			c.sessionCookie = cookie.Value
		case "ROUTEID":
			c.routeCookie = cookie.Value
		}
	}
	if token := resp.Header.Get("X-CSRF-Token"); token != "" {
		c.csrfToken = token
	}
	if c.sessionCookie == "" {
		return saperr.New(saperr.CodeAuth, "login", "no B1SESSION cookie in login response")
	}

	c.sessionExpiry = time.Now().Add(c.sessionTTL)
	c.logger.Info("Service Layer session opened for %s@%s", c.username, c.companyDB)
	return nil
}

// Logout closes the session.
func (c *Client) Logout(ctx context.Context) error {
	if c.demo {
		return nil
	}

	c.mu.Lock()
	hasSession := c.sessionCookie != ""
	c.mu.Unlock()
	if !hasSession {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Logout", nil)
	if err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	c.attachSession(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	_ = resp.Body.Close()

	c.mu.Lock()
	c.sessionCookie = ""
	c.sessionExpiry = time.Time{}
	c.mu.Unlock()
	return nil
}

// ensureSession logs in when there is no session or it is about to expire.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	valid := c.sessionCookie != "" && time.Now().Before(c.sessionExpiry.Add(-time.Minute))
	c.mu.Unlock()

	if valid {
		return nil
	}
	return c.Login(ctx)
}

func (c *Client) attachSession(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "B1SESSION", Value: c.sessionCookie})
	}
	if c.routeCookie != "" {
		req.AddCookie(&http.Cookie{Name: "ROUTEID", Value: c.routeCookie})
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}
}

// encodeURL percent-encodes the characters the Service Layer rejects raw.
func encodeURL(relURL string) string {
	replacer := strings.NewReplacer(" ", "%20", "'", "%27")
	return replacer.Replace(relURL)
}

// extractErrorMessage pulls the human message out of a Service Layer error body.
func extractErrorMessage(data []byte) string {
	var envelope struct {
		Error struct {
			Code    any `json:"code"`
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message.Value != "" {
		return envelope.Error.Message.Value
	}
	return strings.TrimSpace(string(data))
}

// Get executes a GET against a relative URL ("/Orders?$top=5"). Responses
// are cached for the configured TTL; a 401 triggers one re-login retry.
func (c *Client) Get(ctx context.Context, relURL string) (*Result, error) {
	if c.demo {
		return c.demoGet(relURL)
	}

	c.cacheMu.Lock()
	if entry, ok := c.cache[relURL]; ok && time.Now().Before(entry.expires) {
		c.cacheMu.Unlock()
		logx.Debug(ctx, "sapclient", "cache hit for %s", relURL)
		return entry.result, nil
	}
	c.cacheMu.Unlock()

	result, err := c.getOnce(ctx, relURL, true)
	if err != nil {
		return nil, err
	}

	c.cacheMu.Lock()
	c.cache[relURL] = cacheEntry{result: result, expires: time.Now().Add(c.cacheTTL)}
	c.cacheMu.Unlock()
	return result, nil
}

// Post creates an entity ("/Drafts", "/Invoices"). Never cached.
func (c *Client) Post(ctx context.Context, relURL string, payload any) (*Result, error) {
	if c.demo {
		return c.demoPost(relURL, payload)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+encodeURL(relURL), bytes.NewReader(body))
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.attachSession(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeConnection, "execute", err).AsRetryable()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	if resp.StatusCode >= 400 {
		return nil, saperr.New(saperr.CodeQueryExecution, "execute", extractErrorMessage(data)).
			WithDetail("status", resp.StatusCode).
			WithDetail("url", relURL)
	}

	return parseResult(relURL, data)
}

func (c *Client) getOnce(ctx context.Context, relURL string, allowRelogin bool) (*Result, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+encodeURL(relURL), nil)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}
	c.attachSession(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeConnection, "execute", err).AsRetryable()
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, saperr.Wrap(saperr.CodeQueryExecution, "execute", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && allowRelogin:
		c.logger.Warn("session rejected (401), re-authenticating")
		c.mu.Lock()
		c.sessionCookie = ""
		c.mu.Unlock()
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		return c.getOnce(ctx, relURL, false)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, saperr.Wrap(saperr.CodeAuth, "execute", saperr.ErrSessionExpired)
	case resp.StatusCode >= 400:
		msg := extractErrorMessage(data)
		e := saperr.New(saperr.CodeQueryExecution, "execute", msg).
			WithDetail("status", resp.StatusCode).
			WithDetail("url", relURL)
		if resp.StatusCode >= 500 {
			e = e.AsRetryable()
		}
		return nil, e
	}

	return parseResult(relURL, data)
}

// parseResult decodes the three Service Layer response shapes: a bare
// integer for /$count, an OData envelope with "value", or a single object.
func parseResult(relURL string, data []byte) (*Result, error) {
	result := &Result{Raw: data}
	trimmed := bytes.TrimSpace(data)

	if strings.Contains(relURL, "/$count") {
		count, err := strconv.Atoi(string(trimmed))
		if err != nil {
			return nil, saperr.New(saperr.CodeQueryExecution, "execute",
				fmt.Sprintf("unparseable count response: %s", trimmed))
		}
		result.Count = count
		result.HasCount = true
		return result, nil
	}

	var envelope struct {
		Value []map[string]any `json:"value"`
		Count *int             `json:"odata.count"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Value != nil {
		result.Records = envelope.Value
		if envelope.Count != nil {
			result.Count = *envelope.Count
			result.HasCount = true
		}
		return result, nil
	}

	var single map[string]any
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if count, ok := single["@odata.count"].(float64); ok {
			result.Count = int(count)
			result.HasCount = true
		}
		if value, ok := single["value"].([]any); ok {
			for _, item := range value {
				if record, ok := item.(map[string]any); ok {
					result.Records = append(result.Records, record)
				}
			}
			return result, nil
		}
		result.Records = []map[string]any{single}
		return result, nil
	}

	return nil, saperr.New(saperr.CodeQueryExecution, "execute", "unrecognized response shape")
}

// ServiceDocument implements registry.MetadataFetcher.
func (c *Client) ServiceDocument(ctx context.Context) ([]string, error) {
	if c.demo {
		return demoEntitySets(), nil
	}

	result, err := c.getOnce(ctx, "/", true)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, record := range result.Records {
		if name, ok := record["name"].(string); ok {
			names = append(names, name)
		} else if name, ok := record["url"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// SampleEntity implements registry.MetadataFetcher.
func (c *Client) SampleEntity(ctx context.Context, entity string) (map[string]any, error) {
	result, err := c.Get(ctx, "/"+entity+"?$top=1")
	if err != nil {
		return nil, err
	}
	if len(result.Records) == 0 {
		return nil, nil
	}
	return result.Records[0], nil
}

// InvalidateCache drops all cached responses.
func (c *Client) InvalidateCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache = make(map[string]cacheEntry)
}
