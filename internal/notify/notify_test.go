package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrol/allegro-watch/internal/notify"
)

func sampleItems(n int) []notify.Item {
	items := make([]notify.Item, n)
	for i := range items {
		items[i] = notify.Item{
			ID:       string(rune('a' + i)),
			Name:     "RTX 5090",
			Price:    "9999.00",
			Currency: "PLN",
			Format:   "BUY_NOW",
		}
	}
	return items
}

func TestTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[ALLEGRO] Search: 'gpu deals'", notify.Title("gpu deals"))
}

func TestBody(t *testing.T) {
	t.Parallel()

	body, err := notify.Body([]notify.Item{
		{ID: "123", Name: "RTX 5090", Price: "9999.00", Currency: "PLN", Format: "BUY_NOW"},
	})
	require.NoError(t, err)

	var decoded []notify.Item
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "123", decoded[0].ID)

	// Indented, one field per line.
	assert.Contains(t, body, "\n \"")
}

func TestSMTPNotifier(t *testing.T) {
	t.Parallel()

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  []byte
	)
	n := notify.NewSMTPNotifier(
		"smtp.example.com:587", "user", "pass", "bot@example.com", "me@example.com",
		notify.WithSendFunc(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr = addr
			gotFrom = from
			gotTo = to
			gotMsg = msg
			return nil
		}),
	)

	err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(2))
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"me@example.com"}, gotTo)

	msg := string(gotMsg)
	assert.Contains(t, msg, "From: bot@example.com\r\n")
	assert.Contains(t, msg, "To: me@example.com\r\n")
	assert.Contains(t, msg, "Subject: [ALLEGRO] Search: 'gpu'\r\n")
	assert.Contains(t, msg, "RTX 5090")
}

func TestSMTPNotifierSendError(t *testing.T) {
	t.Parallel()

	n := notify.NewSMTPNotifier(
		"smtp.example.com:587", "user", "pass", "bot@example.com", "me@example.com",
		notify.WithSendFunc(func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("relay unavailable")
		}),
	)

	err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay unavailable")
}

type discordCapture struct {
	Content string `json:"content"`
	Embeds  []struct {
		Title  string `json:"title"`
		Color  int    `json:"color"`
		Fields []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"fields"`
	} `json:"embeds"`
}

func TestDiscordNotifier(t *testing.T) {
	t.Parallel()

	var got discordCapture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := notify.NewDiscordNotifier(srv.URL)
	err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(2))
	require.NoError(t, err)

	assert.Equal(t, "[ALLEGRO] Search: 'gpu'", got.Content)
	require.Len(t, got.Embeds, 2)
	assert.Equal(t, "RTX 5090", got.Embeds[0].Title)
	assert.Equal(t, 0x2ECC71, got.Embeds[0].Color)

	require.Len(t, got.Embeds[0].Fields, 3)
	assert.Equal(t, "Price", got.Embeds[0].Fields[0].Name)
	assert.Equal(t, "9999.00 PLN", got.Embeds[0].Fields[0].Value)
}

func TestDiscordNotifierEmbedOverflow(t *testing.T) {
	t.Parallel()

	var got discordCapture
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := notify.NewDiscordNotifier(srv.URL)
	err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(14))
	require.NoError(t, err)

	// 10 item embeds plus one overflow embed.
	require.Len(t, got.Embeds, 11)
	assert.Contains(t, got.Embeds[10].Title, "4 more new items")
}

func TestDiscordNotifierErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: "429"},
		{name: "bad request", status: http.StatusBadRequest, wantErr: "400"},
		{name: "server error", status: http.StatusInternalServerError, wantErr: "500"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			n := notify.NewDiscordNotifier(srv.URL)
			err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(1))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// recordingNotifier counts deliveries and optionally fails.
type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) NotifyNewItems(context.Context, string, []notify.Item) error {
	r.calls++
	return r.err
}

func TestFanout(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("discord down")}
	c := &recordingNotifier{}

	err := notify.Fanout{a, b, c}.NotifyNewItems(context.Background(), "gpu", sampleItems(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord down")

	// A failing backend does not block the ones after it.
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
}

func TestFanoutAllHealthy(t *testing.T) {
	t.Parallel()

	a := &recordingNotifier{}
	b := &recordingNotifier{}

	err := notify.Fanout{a, b}.NotifyNewItems(context.Background(), "gpu", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestNoOpNotifier(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	n := notify.NewNoOpNotifier(log)
	err := n.NotifyNewItems(context.Background(), "gpu", sampleItems(3))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "notification discarded")
}
