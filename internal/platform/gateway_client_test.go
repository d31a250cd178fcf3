package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coord-service/internal/models"
)

func TestGatewayClient_SendDirect(t *testing.T) {
	var got messageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/42/messages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL+"/", time.Second)

	require.NoError(t, c.SendDirect(context.Background(), 42, "hello"))
	assert.Equal(t, "hello", got.Content)

	err := c.SendDirect(context.Background(), 43, "hello")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestGatewayClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, time.Second)
	err := c.Reply(context.Background(), models.Invocation{ChannelID: 1, MessageID: 2}, "hi")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestGatewayClient_ReactEscapesEmoji(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, time.Second)
	require.NoError(t, c.React(context.Background(), models.Invocation{ChannelID: 5, MessageID: 6}, "⏳"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/v1/channels/5/messages/6/reactions/⏳", path)
}

func TestGatewayClient_Confirm(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   Choice
	}{
		{"accepted", "accepted", ChoiceAccepted},
		{"declined", "declined", ChoiceDeclined},
		{"timeout", "timeout", ChoiceTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req promptRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				_ = json.NewEncoder(w).Encode(promptResponse{Choice: tt.choice})
			}))
			defer srv.Close()

			c := NewGatewayClient(srv.URL, time.Second)
			inv := models.Invocation{UserID: 9, ChannelID: 1, MessageID: 2}
			got, err := c.Confirm(context.Background(), inv, Notice{Title: "Terms"}, 3*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(180000), req.TimeoutMS)
			assert.Equal(t, int64(9), req.UserID)
			assert.Equal(t, "Terms", req.Notice.Title)
		})
	}
}

func TestGatewayClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ShardStatus{Guilds: 120, Shards: 2, Latencies: []float64{0.05, 0.07}})
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, time.Second)
	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(120), status.Guilds)
	assert.Len(t, status.Latencies, 2)
}
