package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/config"
	"github.com/chatgate-bot/chatgate/internal/models"
)

func collectArtifacts(mu *sync.Mutex, out *[]string) models.SendFunc {
	return func(ctx context.Context, artifact *models.Artifact) error {
		mu.Lock()
		defer mu.Unlock()
		*out = append(*out, artifact.Text)
		return nil
	}
}

func TestConcurrencyLock_SerializesWithinSession(t *testing.T) {
	lock := NewConcurrencyLock(&config.ResponseConfig{MaxQueueSize: 10}, &config.TextConfig{}, testLogger())
	req := &models.Request{SessionID: "friend-1"}
	resp := models.NewResponse(nil)

	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxActive)
}

func TestConcurrencyLock_RefusesBeyondMaxQueue(t *testing.T) {
	texts := &config.TextConfig{QueueFull: "queue full"}
	lock := NewConcurrencyLock(&config.ResponseConfig{MaxQueueSize: 1}, texts, testLogger())
	req := &models.Request{SessionID: "friend-1"}

	var mu sync.Mutex
	var sent []string
	resp := models.NewResponse(collectArtifacts(&mu, &sent))

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// The session already holds one slot; the next arrival overflows.
	err := lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
		t.Fatal("refused request must not reach the adapter")
		return nil
	})
	require.ErrorIs(t, err, ErrQueueFull)

	mu.Lock()
	require.Equal(t, []string{"queue full"}, sent)
	mu.Unlock()

	close(release)
	require.NoError(t, <-done)
}

func TestConcurrencyLock_QueuedNotice(t *testing.T) {
	texts := &config.TextConfig{Queued: "queued"}
	lock := NewConcurrencyLock(&config.ResponseConfig{MaxQueueSize: 10, QueuedNoticeSize: 1}, texts, testLogger())
	req := &models.Request{SessionID: "friend-1"}

	var mu sync.Mutex
	var sent []string
	resp := models.NewResponse(collectArtifacts(&mu, &sent))

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	finished := make(chan error, 1)
	go func() {
		finished <- lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
			return nil
		})
	}()

	// The waiter crossed the notice threshold before blocking.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1 && sent[0] == "queued"
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-finished)
}

func TestConcurrencyLock_CanceledWaiterReturns(t *testing.T) {
	lock := NewConcurrencyLock(&config.ResponseConfig{MaxQueueSize: 10}, &config.TextConfig{}, testLogger())
	req := &models.Request{SessionID: "friend-1"}
	resp := models.NewResponse(nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		lock.HandleRequest(context.Background(), req, resp, func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := lock.HandleRequest(ctx, req, resp, func(ctx context.Context) error {
		t.Fatal("canceled waiter must not run")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrencyLock_SessionsAreIndependent(t *testing.T) {
	lock := NewConcurrencyLock(&config.ResponseConfig{MaxQueueSize: 1}, &config.TextConfig{}, testLogger())
	resp := models.NewResponse(nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		lock.HandleRequest(context.Background(), &models.Request{SessionID: "friend-1"}, resp, func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	// A different session is not affected by friend-1's held slot.
	err := lock.HandleRequest(context.Background(), &models.Request{SessionID: "friend-2"}, resp, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}
