package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var count int64
	var wg sync.WaitGroup
	wg.Add(2)
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&count, 1)
		wg.Done()
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventJobCompleted, handler))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobCompleted}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run")
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&count))
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventWorkerDead}))
}

func TestPublishSyncReturnsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.NoError(t, svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler blew up")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 errors")
}

func TestClosedServiceRejectsPublish(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	require.NoError(t, svc.Close())

	err := svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobStarted})
	require.Error(t, err)

	err = svc.Subscribe(interfaces.EventJobStarted, func(ctx context.Context, event interfaces.Event) error { return nil })
	require.Error(t, err)
}

func TestNilHandlerRejected(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	require.Error(t, svc.Subscribe(interfaces.EventJobStarted, nil))
}
