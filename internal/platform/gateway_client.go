package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coord-service/internal/models"
)

var (
	ErrInvalidStatus = errors.New("gateway returned an error status")
	errUnknownChoice = errors.New("gateway returned an unknown choice")
	errNotFound      = errors.New("gateway resource not found")
)

// GatewayClient talks to the sidecar that holds this cluster's shard
// connections.
type GatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewGatewayClient(baseURL string, timeout time.Duration) *GatewayClient {
	return &GatewayClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type messageRequest struct {
	Content string  `json:"content,omitempty"`
	Notice  *Notice `json:"notice,omitempty"`
	ReplyTo int64   `json:"reply_to,omitempty"`
}

type promptRequest struct {
	ChannelID int64  `json:"channel_id"`
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Notice    Notice `json:"notice"`
	TimeoutMS int64  `json:"timeout_ms"`
}

type promptResponse struct {
	Choice string `json:"choice"`
}

// SendDirect opens a DM with userID. A 404 from the gateway means no shard
// on this cluster can see the user.
func (c *GatewayClient) SendDirect(ctx context.Context, userID int64, content string) error {
	path := "/v1/users/" + strconv.FormatInt(userID, 10) + "/messages"
	err := c.do(ctx, http.MethodPost, path, messageRequest{Content: content}, nil, 0)
	if errors.Is(err, errNotFound) {
		return ErrUnreachable
	}
	return err
}

func (c *GatewayClient) Reply(ctx context.Context, inv models.Invocation, content string) error {
	return c.do(ctx, http.MethodPost, channelPath(inv.ChannelID), messageRequest{Content: content, ReplyTo: inv.MessageID}, nil, 0)
}

func (c *GatewayClient) ReplyNotice(ctx context.Context, inv models.Invocation, notice Notice) error {
	return c.do(ctx, http.MethodPost, channelPath(inv.ChannelID), messageRequest{Notice: &notice, ReplyTo: inv.MessageID}, nil, 0)
}

func (c *GatewayClient) React(ctx context.Context, inv models.Invocation, emoji string) error {
	path := fmt.Sprintf("%s/%d/reactions/%s", channelPath(inv.ChannelID), inv.MessageID, url.PathEscape(emoji))
	return c.do(ctx, http.MethodPut, path, nil, nil, 0)
}

// Confirm holds the request open until the user answers. The HTTP timeout is
// stretched past the prompt timeout so the gateway reports the timeout itself.
func (c *GatewayClient) Confirm(ctx context.Context, inv models.Invocation, notice Notice, timeout time.Duration) (Choice, error) {
	req := promptRequest{
		ChannelID: inv.ChannelID,
		MessageID: inv.MessageID,
		UserID:    inv.UserID,
		Notice:    notice,
		TimeoutMS: timeout.Milliseconds(),
	}
	var resp promptResponse
	if err := c.do(ctx, http.MethodPost, "/v1/prompts", req, &resp, timeout+c.httpClient.Timeout); err != nil {
		return ChoiceTimeout, err
	}
	switch resp.Choice {
	case "accepted":
		return ChoiceAccepted, nil
	case "declined":
		return ChoiceDeclined, nil
	case "timeout", "":
		return ChoiceTimeout, nil
	default:
		return ChoiceTimeout, fmt.Errorf("%w: %q", errUnknownChoice, resp.Choice)
	}
}

func (c *GatewayClient) Status(ctx context.Context) (ShardStatus, error) {
	var status ShardStatus
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status, 0); err != nil {
		return ShardStatus{}, err
	}
	return status, nil
}

func channelPath(channelID int64) string {
	return "/v1/channels/" + strconv.FormatInt(channelID, 10) + "/messages"
}

func (c *GatewayClient) do(ctx context.Context, method, path string, in, out interface{}, timeout time.Duration) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.httpClient
	if timeout > 0 {
		clone := *c.httpClient
		clone.Timeout = 0
		httpClient = &clone
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s returned %d", ErrInvalidStatus, method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
