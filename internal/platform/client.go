// Package platform is the HTTP client for the document-intelligence
// platform: DQL queries (ad-hoc and long-poll), file upload, collection
// and field management, and record updates.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the hosted platform endpoint.
const DefaultBaseURL = "https://app.docsift.io"

// Config configures a platform client.
type Config struct {
	BaseURL    string
	OrgName    string
	APIToken   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a connection to one platform org. It is safe for concurrent
// use; per-request credentials are fixed at construction.
type Client struct {
	orgURL     string
	apiURL     string
	token      string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient creates a client for the given org.
func NewClient(cfg Config) (*Client, error) {
	if cfg.OrgName == "" {
		return nil, fmt.Errorf("org name is required")
	}
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("api token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Minute, // Long timeout for uploads and poll queries
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	orgURL := urljoin(base, "o", cfg.OrgName)
	return &Client{
		orgURL:     orgURL,
		apiURL:     urljoin(orgURL, "api/v2"),
		token:      cfg.APIToken,
		httpClient: httpClient,
		log:        log,
	}, nil
}

// Ping verifies credentials with a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "@files limit:0")
	return err
}

// QueryOptions controls query execution mode.
type QueryOptions struct {
	// Mode is "iql" (ad-hoc, the default) or "poll" (block until the
	// query results change).
	Mode string

	// Cursor resumes a poll from a point in time.
	Cursor string

	// Timeout bounds a single request server-side, in whole seconds.
	Timeout time.Duration
}

// QueryResponse is the platform's reply to a query. In poll mode Data
// holds change records rather than rows.
type QueryResponse struct {
	Data   json.RawMessage `json:"data"`
	Cursor string          `json:"cursor,omitempty"`
	Schema *RemoteField    `json:"schema,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// Rows decodes an ad-hoc query's result rows.
func (r *QueryResponse) Rows() ([]map[string]any, error) {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(r.Data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode query rows: %w", err)
	}
	return rows, nil
}

// Change is one poll-mode change record.
type Change struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Changes decodes a poll response's change records.
func (r *QueryResponse) Changes() ([]Change, error) {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil, nil
	}
	var changes []Change
	if err := json.Unmarshal(r.Data, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode poll changes: %w", err)
	}
	return changes, nil
}

// Query runs an ad-hoc DQL query.
func (c *Client) Query(ctx context.Context, query string) (*QueryResponse, error) {
	return c.QueryWith(ctx, query, QueryOptions{})
}

// QueryWith runs a DQL query with explicit options. Request timeouts from
// the server are re-issued with the remaining time budget until the
// caller's timeout is spent.
func (c *Client) QueryWith(ctx context.Context, query string, opts QueryOptions) (*QueryResponse, error) {
	mode := opts.Mode
	if mode == "" {
		mode = "iql"
	}

	args := map[string]any{"query": query}
	if opts.Cursor != "" {
		args["cursor"] = opts.Cursor
	}
	if opts.Timeout > 0 {
		args["timeout"] = int(opts.Timeout.Seconds())
	}

	start := time.Now()
	var body []byte
	for {
		var status int
		var err error
		status, body, err = c.do(ctx, http.MethodPost, urljoin(c.apiURL, mode), args)
		if err != nil {
			return nil, err
		}
		if status < 300 {
			break
		}
		remaining := opts.Timeout - time.Since(start)
		if status == http.StatusRequestTimeout && opts.Timeout > 0 && remaining > 0 {
			args["timeout"] = int(math.Ceil(remaining.Seconds()))
			c.log.Warn("query request timed out with budget remaining, retrying",
				"remaining", remaining.Round(time.Second))
			continue
		}
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var resp QueryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	if resp.Error != nil {
		return nil, &QueryError{Message: *resp.Error}
	}
	return &resp, nil
}

// GetCollectionID resolves a collection name to its uid, or "" if it does
// not exist.
func (c *Client) GetCollectionID(ctx context.Context, name string) (string, error) {
	resp, err := c.Query(ctx, fmt.Sprintf("@__system::collections[uid] Name=%q", name))
	if err != nil {
		return "", err
	}
	rows, err := resp.Rows()
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	if len(rows) > 1 {
		uids := make([]string, 0, len(rows))
		for _, r := range rows {
			uids = append(uids, fmt.Sprint(r["uid"]))
		}
		return "", fmt.Errorf("found multiple collections named %q: %s", name, strings.Join(uids, ", "))
	}
	uid, _ := rows[0]["uid"].(string)
	return uid, nil
}

// CreateCollection creates a named collection and returns its uid. The
// name must not already exist.
func (c *Client) CreateCollection(ctx context.Context, name string) (string, error) {
	existing, err := c.GetCollectionID(ctx, name)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return "", fmt.Errorf("collection %q already exists at %s", name, c.AppURL("fc", existing))
	}

	// Collection creation is an empty insert against the named endpoint.
	status, body, err := c.do(ctx, http.MethodPost, c.resourceURL("collection", name, false), map[string]any{"data": []any{}})
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", &APIError{StatusCode: status, Body: string(body)}
	}
	var out struct {
		UIDs []string `json:"uids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if len(out.UIDs) != 0 {
		return "", fmt.Errorf("expected empty uid list creating collection, got %s", strings.Join(out.UIDs, ", "))
	}

	return c.GetCollectionID(ctx, name)
}

// CreateFields creates fields in a collection in one request.
func (c *Client) CreateFields(ctx context.Context, collectionID string, specs []FieldSpec) error {
	status, body, err := c.do(ctx, http.MethodPost,
		urljoin(c.apiURL, "schema/ecs", "file_collections::"+collectionID, "fields"), specs)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// DeleteField removes a field from a collection.
func (c *Client) DeleteField(ctx context.Context, collectionID, fieldName string) error {
	status, body, err := c.do(ctx, http.MethodDelete,
		urljoin(c.apiURL, "schema/ecs", "file_collections::"+collectionID, "fields", url.PathEscape(fieldName)), nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// AddFilesToCollection adds existing org files to a collection.
func (c *Client) AddFilesToCollection(ctx context.Context, collectionID string, fileIDs []string) error {
	data := make([]map[string]any, 0, len(fileIDs))
	for _, uid := range fileIDs {
		data = append(data, map[string]any{"file_uid": uid, "collection_uid": collectionID})
	}
	status, body, err := c.do(ctx, http.MethodPost,
		c.resourceURL("ec", "file_collection_contents", false), map[string]any{"data": data})
	if err != nil {
		return err
	}
	if status >= 300 {
		return &APIError{StatusCode: status, Body: string(body)}
	}
	return nil
}

// Update writes field values into a collection. Each record must carry a
// "uid" key naming the file to update. Returns the updated uids.
func (c *Client) Update(ctx context.Context, collectionID string, records []map[string]any) ([]string, error) {
	status, body, err := c.do(ctx, http.MethodPatch,
		c.resourceURL("fc", collectionID, false), map[string]any{"data": records})
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}
	var out struct {
		UIDs []string `json:"uids"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode update response: %w", err)
	}
	return out.UIDs, nil
}

// AppURL returns the browser URL for a resource.
func (c *Client) AppURL(resourceType, resourceID string) string {
	return urljoin(c.orgURL, resourceType, resourceID)
}

// do issues one JSON request and reads the full response body.
func (c *Client) do(ctx context.Context, method, u string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Access-Token", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func urljoin(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed = append(trimmed, strings.Trim(p, "/"))
	}
	return strings.Join(trimmed, "/")
}
