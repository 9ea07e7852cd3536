package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/notify"
	"github.com/amadeodlp/cryptara/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type botServer struct {
	mu    sync.Mutex
	paths []string
	texts []string
}

func (b *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.texts = append(b.texts, body["text"])
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *botServer) received() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...), append([]string(nil), b.texts...)
}

func TestDispatcherDeliversAndForwards(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot)
	defer srv.Close()

	store := memory.New()
	bus := memory.NewSignalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pushed, err := bus.Subscribe(ctx, domain.NotificationsChannel)
	require.NoError(t, err)

	tg := notify.NewTelegramSender("secret-token", "42", srv.URL)
	d := notify.NewDispatcher(store.Notifications(), bus, []notify.Sender{tg}, []string{"Staking Successful"}, 8, discardLogger())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Send(ctx, "alice", "Staking Successful", "You staked 5 FIN.")
	d.Send(ctx, "alice", "Weekly digest", "Nothing new.")

	require.Eventually(t, func() bool {
		list, _ := store.Notifications().ListByUser(context.Background(), "alice", 10, false)
		return len(list) == 2
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case raw := <-pushed:
		var msg map[string]any
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "alice", msg["user_id"])
		assert.Equal(t, "Staking Successful", msg["title"])
	case <-time.After(time.Second):
		t.Fatal("notification was not pushed to the bus")
	}

	cancel()
	require.NoError(t, <-done)

	paths, texts := bot.received()
	require.Len(t, paths, 1, "only configured titles are forwarded")
	assert.Equal(t, "/botsecret-token/sendMessage", paths[0])
	assert.Contains(t, texts[0], "*Staking Successful*")
	assert.Contains(t, texts[0], "user: alice")
}

type failingSender struct{}

func (failingSender) Send(context.Context, string, string) error { return assert.AnError }
func (failingSender) Name() string                                { return "failing" }

func TestDispatcherSenderFailureKeepsInbox(t *testing.T) {
	store := memory.New()
	d := notify.NewDispatcher(store.Notifications(), nil, []notify.Sender{failingSender{}}, nil, 4, discardLogger())

	d.Send(context.Background(), "bob", "Unstaking Completed", "done")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	list, err := store.Notifications().ListByUser(context.Background(), "bob", 10, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Unstaking Completed", list[0].Title)
	assert.False(t, list[0].Read)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	store := memory.New()
	d := notify.NewDispatcher(store.Notifications(), nil, nil, nil, 1, discardLogger())

	sent := make(chan struct{})
	go func() {
		for range 5 {
			d.Send(context.Background(), "carol", "Staking Successful", "x")
		}
		close(sent)
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	list, err := store.Notifications().ListByUser(context.Background(), "carol", 10, false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["content"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := notify.NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "discord", s.Name())

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	err := notify.NewDiscordSender(missing.URL).Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
}
