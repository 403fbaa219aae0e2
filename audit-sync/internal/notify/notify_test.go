package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	failures int
	calls    int
	sent     []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifierRetriesThenPublishes(t *testing.T) {
	w := &fakeWriter{failures: 2}
	n := newKafkaNotifier(w, 3)
	n.backoff = time.Millisecond

	err := n.Notify(context.Background(), Event{Kind: AuditSubmitted, Audience: Administrators, AuditID: 9})
	require.NoError(t, err)
	assert.Equal(t, 3, w.calls)
	require.Len(t, w.sent, 1)
	assert.Equal(t, "audit-9", string(w.sent[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.sent[0].Value, &decoded))
	assert.Equal(t, AuditSubmitted, decoded.Kind)
}

func TestKafkaNotifierGivesUp(t *testing.T) {
	w := &fakeWriter{failures: 10}
	n := newKafkaNotifier(w, 2)
	n.backoff = time.Millisecond

	err := n.Notify(context.Background(), Event{Kind: SyncBatchFailed, BatchID: 4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, w.calls)
}

func TestNewKafkaNotifierValidates(t *testing.T) {
	_, err := NewKafkaNotifier(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaNotifier(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Event) error { return errors.New("smtp down") }

func TestDispatchLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	ok := NewLogNotifier(logger)
	Dispatch(context.Background(), Multi{ok, failingNotifier{}}, logger, Event{Kind: AuditReviewed, AuditID: 3})

	out := buf.String()
	assert.Contains(t, out, `"msg":"notification"`)
	assert.Contains(t, out, "smtp down")
}

// gatedNotifier blocks every delivery until gate is closed.
type gatedNotifier struct {
	gate chan struct{}
	mu   sync.Mutex
	got  []Event
}

func (g *gatedNotifier) Notify(_ context.Context, ev Event) error {
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, ev)
	return nil
}

func TestAsyncDoesNotWaitForDelivery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	g := &gatedNotifier{gate: make(chan struct{})}
	a := NewAsync(g, logger, 1, time.Second)

	require.NoError(t, a.Notify(context.Background(), Event{Kind: AuditSubmitted, AuditID: 1}))
	require.Eventually(t, func() bool { return len(a.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, a.Notify(context.Background(), Event{Kind: AuditSubmitted, AuditID: 2}))

	err := a.Notify(context.Background(), Event{Kind: AuditSubmitted, AuditID: 3})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(g.gate)
	require.NoError(t, a.Close(context.Background()))
	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.got, 2)
	assert.Equal(t, int64(1), g.got[0].AuditID)
	assert.Equal(t, int64(2), g.got[1].AuditID)

	assert.ErrorIs(t, a.Notify(context.Background(), Event{Kind: AuditReviewed}), ErrClosed)
}

func TestAsyncCloseGivesUpOnStuckDelivery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	g := &gatedNotifier{gate: make(chan struct{})}
	defer close(g.gate)
	a := NewAsync(g, logger, 4, time.Second)
	require.NoError(t, a.Notify(context.Background(), Event{Kind: SyncBatchFailed, BatchID: 7}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.Close(ctx), context.DeadlineExceeded)
}

func TestAsyncLogsDeliveryFailures(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logger := logrus.New()
	logger.SetOutput(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	}))
	a := NewAsync(failingNotifier{}, logger, 4, time.Second)
	require.NoError(t, a.Notify(context.Background(), Event{Kind: AuditReviewed, AuditID: 5}))
	require.NoError(t, a.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, buf.String(), "smtp down")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
