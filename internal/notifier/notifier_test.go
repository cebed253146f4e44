package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hospital-queue/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEvent() models.ChangeEvent {
	return models.ChangeEvent{
		Kind:         models.EventWaitTimeChanged,
		EntryID:      "e1",
		PatientID:    "p1",
		QueueNumber:  "RAD20260101080000abcd",
		DepartmentID: "d1",
		OldEstimate:  30,
		NewEstimate:  45,
		OccurredAt:   time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

type recordingNotifier struct {
	events []models.ChangeEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e models.ChangeEvent) error {
	r.events = append(r.events, e)
	return r.err
}

type fakePublisher struct {
	topic   string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(topic string, _ bool, payload []byte) error {
	f.topic, f.payload = topic, payload
	return f.err
}

func TestStreamNotifier_Notify(t *testing.T) {
	client, _ := newRedis(t)
	n := NewStreamNotifier(client, "", 100)

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	msgs, err := client.XRange(context.Background(), DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got models.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "e1", got.EntryID)
	assert.Equal(t, 45, got.NewEstimate)
}

func TestMQTTNotifier_TopicPerPatient(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(pub, "hospital/queue/")

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, "hospital/queue/p1", pub.topic)
	assert.Contains(t, string(pub.payload), `"new_estimate":45`)

	ev := sampleEvent()
	ev.PatientID = ""
	assert.Equal(t, "hospital/queue/e1", n.Topic(ev))
}

func TestMQTTNotifier_PublishError(t *testing.T) {
	n := NewMQTTNotifier(&fakePublisher{err: errors.New("not connected")}, "")
	assert.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestWebhookNotifier(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Contains(t, string(body), `"entry_id":"e1"`)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second)
	assert.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	bad := &recordingNotifier{err: errors.New("down")}
	good := &recordingNotifier{}

	err := Multi{bad, good}.Notify(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Len(t, good.events, 1)
}

func TestRateLimited_SuppressesWithinWindow(t *testing.T) {
	client, mr := newRedis(t)
	inner := &recordingNotifier{}
	n := NewRateLimited(inner, NewRedisLimiter(client, ""), time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, sampleEvent()))
	err := n.Notify(ctx, sampleEvent())
	assert.True(t, errors.Is(err, ErrSuppressed))
	assert.Len(t, inner.events, 1)
	assert.True(t, mr.Exists("queue:notify:p1:wait_time_changed"))

	// 不同类型不受影响
	expired := sampleEvent()
	expired.Kind = models.EventEntryExpired
	require.NoError(t, n.Notify(ctx, expired))
	assert.Len(t, inner.events, 2)

	mr.FastForward(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, sampleEvent()))
	assert.Len(t, inner.events, 3)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimited_FailsOpen(t *testing.T) {
	inner := &recordingNotifier{}
	n := NewRateLimited(inner, brokenLimiter{}, time.Minute, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Len(t, inner.events, 1)
}
