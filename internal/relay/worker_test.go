package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu       sync.Mutex
	failFor  int
	attempts int
	msgs     []*nats.Msg
}

func (f *fakePublisher) PublishMsg(msg *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failFor > 0 {
		f.failFor--
		return errors.New("simulated nats outage")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestPublishWithRetryEventuallySucceeds(t *testing.T) {
	pub := &fakePublisher{failFor: 2}
	w := NewWorker(nil, nil, zap.NewNop(), WorkerConfig{RetryMax: 5})
	w.publisher = pub

	rec := record{ID: 7, Topic: "dispatch.events.bookingConfirmed", Payload: []byte(`{"id":7}`), CreatedAt: time.Now()}
	err := w.publishWithRetry(context.Background(), rec)
	require.NoError(t, err)

	require.Equal(t, 3, pub.attempts)
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "dispatch.events.bookingConfirmed", pub.msgs[0].Subject)
	require.Equal(t, []byte(`{"id":7}`), pub.msgs[0].Data)
}

func TestPublishWithRetryExhaustsAttempts(t *testing.T) {
	pub := &fakePublisher{failFor: 10}
	w := NewWorker(nil, nil, zap.NewNop(), WorkerConfig{RetryMax: 3})
	w.publisher = pub

	rec := record{ID: 9, Topic: "dispatch.events.bookingCancelled", Payload: []byte(`{}`), CreatedAt: time.Now()}
	err := w.publishWithRetry(context.Background(), rec)
	require.Error(t, err)
	require.Equal(t, 3, pub.attempts)
	require.Empty(t, pub.msgs)
}

func TestPublishWithRetryRejectsMissingTopic(t *testing.T) {
	w := NewWorker(nil, nil, zap.NewNop(), WorkerConfig{})
	w.publisher = &fakePublisher{}
	err := w.publishWithRetry(context.Background(), record{ID: 1})
	require.Error(t, err)
}

func TestRunRequiresCollaborators(t *testing.T) {
	w := NewWorker(nil, nil, zap.NewNop(), WorkerConfig{})
	require.Error(t, w.Run(context.Background()))
}
