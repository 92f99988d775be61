package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateline/internal/metrics"
	"gateline/internal/notify"
)

func TestSlackNotifierPostsText(t *testing.T) {
	var got map[string]string
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Gateline-Channel")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.SlackNotifier{WebhookURL: srv.URL}
	require.NoError(t, n.Notify(context.Background(), notify.ChannelStageUnlocked, "Measurement unlocked"))
	assert.Equal(t, "[stage.unlocked] Measurement unlocked", got["text"])
	assert.Equal(t, notify.ChannelStageUnlocked, header)
}

func TestSlackNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := notify.SlackNotifier{WebhookURL: srv.URL}.Notify(context.Background(), "c", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestSlackNotifierWithoutURLIsNoop(t *testing.T) {
	assert.NoError(t, notify.SlackNotifier{}.Notify(context.Background(), "c", "m"))
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSNotifierPublishesOnPrefixedSubject(t *testing.T) {
	pub := &fakePublisher{}
	n := notify.NATSNotifier{Conn: pub, Prefix: "gateline.", Now: func() time.Time {
		return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	}}
	require.NoError(t, n.Notify(context.Background(), notify.ChannelApprovalAdvanced, "REQ-1 approved"))
	require.Equal(t, []string{"gateline.approval.advanced"}, pub.subjects)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "REQ-1 approved", msg["message"])
	assert.Equal(t, "2025-01-02T03:04:05Z", msg["ts"])
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakePublisher{}
	bad := &fakePublisher{err: errors.New("no responders")}
	m := notify.Multi{notify.NATSNotifier{Conn: ok}, notify.NATSNotifier{Conn: bad}, notify.Nop{}}
	err := m.Notify(context.Background(), "c", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.Len(t, ok.subjects, 1)
}

type failing struct{}

func (failing) Notify(context.Context, string, string) error { return errors.New("webhook down") }

func TestDispatcherSwallowsAndCountsFailures(t *testing.T) {
	var logs bytes.Buffer
	m := metrics.New()
	d := notify.NewDispatcher(failing{}, slog.New(slog.NewTextHandler(&logs, nil)), m)

	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, d.Notify(ctx, notify.ChannelProjectHandedOver, "handed over"))
	cancel()
	d.Wait()

	n, err := testutil.GatherAndCount(m.Registry(), "gateline_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, logs.String(), "notification failed")
	assert.Contains(t, logs.String(), "webhook down")
}

func TestDispatcherDeliversAfterCallerContextEnds(t *testing.T) {
	pub := &fakePublisher{}
	d := notify.NewDispatcher(notify.NATSNotifier{Conn: pub}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Notify(ctx, "c", "m"))
	d.Wait()
	assert.Len(t, pub.subjects, 1)
}
