package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"callroom/native/internal/domain"

	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

type joinRequest struct {
	RoomID string `json:"roomId"`
	Email  string `json:"email"`
}

// resultResponse is the envelope of every room API response, success or not.
type resultResponse struct {
	Result string `json:"result"`
}

// Client talks to the room lifecycle API. It is the only source of roles.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client rooted at baseURL (e.g. http://host/api).
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// CreateRoom creates a room owned by callerEmail. The creator is always the caller.
func (c *Client) CreateRoom(ctx context.Context, callerEmail string) (*domain.Assignment, error) {
	q := url.Values{}
	q.Set("callerEmail", callerEmail)

	resp, err := c.post(ctx, "/rooms?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if !resp.success() {
		return nil, fmt.Errorf("%w: create room: http %d: %s", domain.ErrNetwork, resp.status, resp.result)
	}
	if !resp.decoded {
		return nil, fmt.Errorf("%w: create room: unexpected body %q", domain.ErrNetwork, resp.result)
	}
	result := resp.result

	roomID, err := ParseRoomID(result)
	if err != nil {
		return nil, fmt.Errorf("%w: create room: %v", domain.ErrNetwork, err)
	}

	log.Info().Str("component", "api").Str("room_id", roomID).Str("room_url", result).Msg("room created")
	return &domain.Assignment{
		Role:    domain.RoleCaller,
		RoomID:  roomID,
		RoomURL: result,
		Email:   callerEmail,
	}, nil
}

// JoinRoom joins roomID as calleeEmail. The joiner is always the callee.
func (c *Client) JoinRoom(ctx context.Context, roomID, calleeEmail string) (*domain.Assignment, error) {
	body, err := json.Marshal(joinRequest{RoomID: roomID, Email: calleeEmail})
	if err != nil {
		return nil, fmt.Errorf("marshal join request: %w", err)
	}

	resp, err := c.post(ctx, "/rooms/join", body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.status == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, resp.result)
	case resp.status == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomFull, resp.result)
	case !resp.success():
		return nil, fmt.Errorf("%w: join room: http %d: %s", domain.ErrNetwork, resp.status, resp.result)
	case !resp.decoded:
		return nil, fmt.Errorf("%w: join room: unexpected body %q", domain.ErrNetwork, resp.result)
	}
	result := resp.result

	log.Info().Str("component", "api").Str("room_id", roomID).Str("status", result).Msg("room joined")
	return &domain.Assignment{
		Role:          domain.RoleCallee,
		RoomID:        roomID,
		StatusMessage: result,
		Email:         calleeEmail,
	}, nil
}

// response is a room API reply. result is the {result} field when the body
// decoded, otherwise the raw body text.
type response struct {
	status  int
	result  string
	decoded bool
}

func (r response) success() bool {
	return r.status >= 200 && r.status < 300
}

// post sends a request and reads the reply. Only transport failures are
// returned as errors; callers map the status.
func (c *Client) post(ctx context.Context, route string, body []byte) (response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, reader)
	if err != nil {
		return response{}, fmt.Errorf("create http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: http request: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	var envelope resultResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return response{status: resp.StatusCode, result: strings.TrimSpace(string(respBody))}, nil
	}
	return response{status: resp.StatusCode, result: envelope.Result, decoded: true}, nil
}

// ParseRoomID accepts a shared room link or a bare room id and returns the id.
// Links end in the room id, optionally followed by a role segment such as /join.
func ParseRoomID(roomURLOrID string) (string, error) {
	s := strings.TrimSpace(roomURLOrID)
	if s == "" {
		return "", fmt.Errorf("empty room reference")
	}
	if !strings.Contains(s, "/") {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse room url: %w", err)
	}
	p := strings.TrimRight(u.Path, "/")
	last := path.Base(p)
	if last == "join" || last == "caller" || last == "callee" {
		last = path.Base(path.Dir(p))
	}
	if last == "" || last == "." || last == "/" {
		return "", fmt.Errorf("no room id in %q", s)
	}
	return last, nil
}
