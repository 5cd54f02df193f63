package httpapi

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Paintersrp/remotelaunch/internal/api"
	"github.com/Paintersrp/remotelaunch/internal/status"
)

const defaultClientTimeout = 10 * time.Second

// Client calls a remote control API. Errors carrying a known code are
// wrapped around the matching api sentinel.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the server listening on addr. addr may be a
// bare host:port or a full URL.
func NewClient(addr string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base == "" {
		base = defaultAddr
	}
	if !strings.Contains(base, "://") {
		base = "http://" + normalizeAddr(base)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{baseURL: base, http: httpClient}
}

// BaseURL returns the URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the latest snapshot.
func (c *Client) Status(ctx stdcontext.Context) (*status.Snapshot, error) {
	var snap status.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Start asks the server to start entry id with extra arguments.
func (c *Client) Start(ctx stdcontext.Context, id uint, args string) error {
	var resp api.StartResponse
	return c.do(ctx, http.MethodPost, "/api/v1/start", api.StartRequest{EntryID: id, Args: args}, &resp)
}

// Stop asks the server to stop entry id.
func (c *Client) Stop(ctx stdcontext.Context, id uint) error {
	var resp api.StopResponse
	return c.do(ctx, http.MethodPost, "/api/v1/stop", api.StopRequest{EntryID: id}, &resp)
}

func (c *Client) do(ctx stdcontext.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var codeErrors = map[string]error{
	"bad_request":     api.ErrBadRequest,
	"invalid_id":      api.ErrInvalidID,
	"already_running": api.ErrAlreadyRunning,
	"not_running":     api.ErrNotRunning,
	"spawn_failed":    api.ErrSpawnFailed,
	"no_snapshot":     api.ErrNoSnapshot,
}

func decodeError(statusCode int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("server returned %d: %s", statusCode, strings.TrimSpace(string(data)))
	}
	if sentinel, ok := codeErrors[body.Code]; ok {
		// Message already starts with the sentinel text.
		if strings.HasPrefix(body.Message, sentinel.Error()) {
			return fmt.Errorf("%w%s", sentinel, strings.TrimPrefix(body.Message, sentinel.Error()))
		}
		return fmt.Errorf("%w: %s", sentinel, body.Message)
	}
	return errors.New(body.Message)
}
