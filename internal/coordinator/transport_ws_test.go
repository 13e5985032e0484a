package coordinator

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRelaysEnvelopesBetweenClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Envelope, 4)
	clientA := NewClient(wsURL, 1, func(_ context.Context, env Envelope) { received <- env }, logger)
	clientB := NewClient(wsURL, 2, func(_ context.Context, _ Envelope) {}, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = clientA.Run(ctx) }()
	go func() { defer wg.Done(); _ = clientB.Run(ctx) }()

	env, err := NewEnvelope(KindBlacklistUniformize, 2, BlacklistPayload{Guilds: []string{"g-bad"}})
	require.NoError(t, err)

	// Both clients connect asynchronously; retry until the frame arrives.
	var got Envelope
	require.Eventually(t, func() bool {
		_ = clientB.Send(ctx, env)
		select {
		case got = <-received:
			return true
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, KindBlacklistUniformize, got.Kind)
	assert.Equal(t, 2, got.OriginShardID)

	cancel()
	wg.Wait()
}

func TestHubLocalHandlerSeesClientTraffic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)

	received := make(chan Envelope, 4)
	hub.Local = func(_ context.Context, env Envelope) { received <- env }

	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(wsURL, 3, func(_ context.Context, _ Envelope) {}, logger)
	done := make(chan struct{})
	go func() { defer close(done); _ = client.Run(ctx) }()

	env, err := NewEnvelope(KindFinishedInit, 3, ShardPayload{ShardID: 3})
	require.NoError(t, err)

	var got Envelope
	require.Eventually(t, func() bool {
		_ = client.Send(ctx, env)
		select {
		case got = <-received:
			return true
		default:
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, KindFinishedInit, got.Kind)

	cancel()
	<-done
}

func TestHubOnConnectReportsShardID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)

	connected := make(chan int, 1)
	hub.OnConnect = func(shardID int) { connected <- shardID }

	server := httptest.NewServer(hub)
	defer server.Close()
	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(wsURL, 7, func(context.Context, Envelope) {}, logger)
	done := make(chan struct{})
	go func() { defer close(done); _ = client.Run(ctx) }()

	select {
	case shardID := <-connected:
		assert.Equal(t, 7, shardID)
	case <-ctx.Done():
		t.Fatal("connect callback never fired")
	}

	cancel()
	<-done
}

func TestClientSendFailsWhenDisconnected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient("ws://127.0.0.1:1/", 1, func(context.Context, Envelope) {}, logger)

	env, err := NewEnvelope(KindStop, 1, nil)
	require.NoError(t, err)
	assert.Error(t, client.Send(context.Background(), env))
}
