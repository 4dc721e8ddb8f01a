package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeliverer struct {
	calls   int
	lastURL string
	lastHdr map[string]string
	lastBdy []byte
	status  int
	err     error
}

func (f *fakeDeliverer) Deliver(url string, body []byte, headers map[string]string) (int, error) {
	f.calls++
	f.lastURL = url
	f.lastHdr = headers
	f.lastBdy = body
	if f.err != nil {
		return 0, f.err
	}
	if f.status == 0 {
		return 200, nil
	}
	return f.status, nil
}

func testEvent(dedupeKey string) Event {
	return Event{
		ID:        "evt-1",
		Type:      "key.exhausted",
		Timestamp: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		Payload: map[string]interface{}{
			"keyId":  "key-abc",
			"secret": "should-not-leak",
			"nested": map[string]interface{}{
				"token": "also-should-not-leak",
				"fine":  "kept",
			},
		},
		DedupeKey: dedupeKey,
	}
}

func TestEmitter_SignatureVerifiesAndPayloadIsSanitized(t *testing.T) {
	deliverer := &fakeDeliverer{}
	dedup := NewMemDedupStore(16)
	e := NewEmitter("https://hooks.example.com/x", "shh-secret", dedup, time.Minute, deliverer, nil)

	d := e.Emit(context.Background(), testEvent("key-abc"))
	require.NoError(t, d.Err)
	assert.True(t, d.Delivered)
	require.Equal(t, 1, deliverer.calls)

	ts := deliverer.lastHdr[headerPrefix+"-Timestamp"]
	sig := deliverer.lastHdr[headerPrefix+"-Signature"]
	assert.True(t, Verify(deliverer.lastBdy, ts, sig, "shh-secret"))
	assert.False(t, Verify(deliverer.lastBdy, ts, sig, "wrong-secret"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(deliverer.lastBdy, &decoded))
	payload := decoded["payload"].(map[string]interface{})
	assert.NotContains(t, payload, "secret")
	assert.Equal(t, "key-abc", payload["keyId"])
	nested := payload["nested"].(map[string]interface{})
	assert.NotContains(t, nested, "token")
	assert.Equal(t, "kept", nested["fine"])
}

func TestEmitter_DedupWindowSuppressesRepeatDelivery(t *testing.T) {
	deliverer := &fakeDeliverer{}
	dedup := NewMemDedupStore(16)
	e := NewEmitter("https://hooks.example.com/x", "secret", dedup, time.Minute, deliverer, nil)

	first := e.Emit(context.Background(), testEvent("key-abc"))
	assert.True(t, first.Delivered)
	assert.False(t, first.Deduped)

	second := e.Emit(context.Background(), testEvent("key-abc"))
	assert.True(t, second.Deduped)
	assert.False(t, second.Delivered)
	assert.Equal(t, 1, deliverer.calls)
}

func TestEmitter_DedupWindowIsPerEventTypeAndKey(t *testing.T) {
	deliverer := &fakeDeliverer{}
	dedup := NewMemDedupStore(16)
	e := NewEmitter("https://hooks.example.com/x", "secret", dedup, time.Minute, deliverer, nil)

	e.Emit(context.Background(), testEvent("key-abc"))
	other := testEvent("key-def")
	d := e.Emit(context.Background(), other)
	assert.False(t, d.Deduped)
	assert.Equal(t, 2, deliverer.calls)
}

func TestEmitter_DedupWindowExpires(t *testing.T) {
	deliverer := &fakeDeliverer{}
	dedup := NewMemDedupStore(16)
	e := NewEmitter("https://hooks.example.com/x", "secret", dedup, 10*time.Millisecond, deliverer, nil)

	ev := testEvent("key-abc")
	e.Emit(context.Background(), ev)

	later := ev
	later.Timestamp = ev.Timestamp.Add(time.Hour)
	d := e.Emit(context.Background(), later)
	assert.False(t, d.Deduped)
	assert.Equal(t, 2, deliverer.calls)
}

func TestEmitter_DeliveryErrorIsReported(t *testing.T) {
	deliverer := &fakeDeliverer{err: assertErr{}}
	dedup := NewMemDedupStore(16)
	e := NewEmitter("https://hooks.example.com/x", "secret", dedup, time.Minute, deliverer, nil)

	d := e.Emit(context.Background(), testEvent("key-abc"))
	assert.Error(t, d.Err)
	assert.False(t, d.Delivered)
}

type assertErr struct{}

func (assertErr) Error() string { return "delivery failed" }

func TestRedisDedupStore_SeenRecentlyMatchesMemSemantics(t *testing.T) {
	srv, err := miniredis.Run()
	require.NoError(t, err)
	defer srv.Close()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedisDedupStore(client)

	now := time.Now()
	seen, err := store.SeenRecently(context.Background(), "key.exhausted:key-abc", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.SeenRecently(context.Background(), "key.exhausted:key-abc", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, seen)

	srv.FastForward(2 * time.Minute)
	seen, err = store.SeenRecently(context.Background(), "key.exhausted:key-abc", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestErrorSpikeDetector_TriggersAtThreshold(t *testing.T) {
	d := NewErrorSpikeDetector(SpikeConfig{Threshold: 3, Window: time.Minute})
	now := time.Now()

	assert.False(t, d.RecordFailure(now))
	assert.False(t, d.RecordFailure(now.Add(time.Second)))
	assert.True(t, d.RecordFailure(now.Add(2*time.Second)))
}

func TestErrorSpikeDetector_WindowExpiry(t *testing.T) {
	d := NewErrorSpikeDetector(SpikeConfig{Threshold: 2, Window: time.Minute})
	now := time.Now()

	d.RecordFailure(now)
	spiking := d.RecordFailure(now.Add(2 * time.Minute))
	assert.False(t, spiking)
}

func TestErrorSpikeDetector_StopIsIdempotent(t *testing.T) {
	d := NewErrorSpikeDetector(SpikeConfig{Threshold: 1, Window: time.Second})
	d.StartWindowMonitor(time.Millisecond, func(int) {})
	d.Stop()
	assert.NotPanics(t, func() { d.Stop() })
}
