package services

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/compression"
	apperrors "texstream/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var teal = color.RGBA{R: 0, G: 128, B: 128, A: 255}

func smallConfig() *domain.StreamConfig {
	return &domain.StreamConfig{
		CaptureHeight: 90,
		Quality:       domain.DefaultQuality,
		FrameRate:     domain.FrameRate60,
	}
}

func stopWithin(t *testing.T, fn func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fn(ctx))
}

func waitDone(t *testing.T, s *StreamSender) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestStreamSender_StartPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		surface ports.CaptureSurface
		session ports.Session
		wantErr error
	}{
		{
			name:    "missing capture surface",
			surface: nil,
			session: newFakeSession(true, true),
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "missing session",
			surface: newFakeSurface(teal),
			session: nil,
			wantErr: apperrors.ErrConfiguration,
		},
		{
			name:    "not connected",
			surface: newFakeSurface(teal),
			session: newFakeSession(false, true),
			wantErr: apperrors.ErrEligibility,
		},
		{
			name:    "not the authorized sender",
			surface: newFakeSurface(teal),
			session: newFakeSession(true, false),
			wantErr: apperrors.ErrEligibility,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewStreamSender(smallConfig(), tt.surface, tt.session, nil)

			err := sender.Start(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			assert.Equal(t, SenderStopped, sender.State())
			assert.Equal(t, err, sender.Err())
			waitDone(t, sender)

			if fs, ok := tt.session.(*fakeSession); ok {
				assert.Empty(t, fs.Sent())
			}
			stopWithin(t, sender.Dispose)
		})
	}
}

func TestStreamSender_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Quality = 101

	sender := NewStreamSender(cfg, newFakeSurface(teal), newFakeSession(true, true), nil)
	err := sender.Start(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	assert.Equal(t, SenderStopped, sender.State())
}

func TestStreamSender_StreamsFrames(t *testing.T) {
	surface := newFakeSurface(teal)
	session := newFakeSession(true, true)
	metrics := &recordingMetrics{}

	sender := NewStreamSender(smallConfig(), surface, session, nil, WithSenderMetrics(metrics))
	assert.Equal(t, SenderUninitialized, sender.State())

	require.NoError(t, sender.Start(context.Background()))
	assert.Equal(t, SenderStreaming, sender.State())

	require.Eventually(t, func() bool { return len(session.Sent()) >= 3 }, 5*time.Second, 5*time.Millisecond)
	stopWithin(t, sender.Stop)

	assert.Equal(t, SenderStopped, sender.State())
	assert.NoError(t, sender.Err())
	assert.Equal(t, 1, surface.binds)
	assert.Equal(t, 160, surface.width)
	assert.Equal(t, 90, surface.height)

	for _, f := range session.Sent() {
		assert.Equal(t, domain.StreamEventCode, f.code)
		assert.Equal(t, domain.FrameSendOptions(), f.opts)
		raw, err := compression.Decompress(f.payload)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFF, 0xD8}, raw[:2], "payload should inflate to a JPEG")
	}

	// one buffer in flight at a time
	stats := sender.PoolStats()
	assert.Equal(t, uint64(1), stats.Allocations)
	assert.GreaterOrEqual(t, stats.Reuses, uint64(2))

	m := metrics.snapshot()
	assert.GreaterOrEqual(t, len(m.sent), 3)
	assert.Equal(t, 160, m.sent[0].Width)
	assert.Positive(t, m.sent[0].CompressedBytes)
	assert.Equal(t, uint64(1), m.allocations)
}

func TestStreamSender_CustomEventCode(t *testing.T) {
	session := newFakeSession(true, true)
	sender := NewStreamSender(smallConfig(), newFakeSurface(teal), session, nil, WithEventCode(7))

	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return len(session.Sent()) >= 1 }, 5*time.Second, 5*time.Millisecond)
	stopWithin(t, sender.Stop)

	assert.Equal(t, domain.EventCode(7), session.Sent()[0].code)
}

func TestStreamSender_StopAndDisposeAreIdempotent(t *testing.T) {
	c, err := compression.NewCompressor(compression.DefaultLevel)
	require.NoError(t, err)
	counting := &countingCompressor{payloadCompressor: c}

	surface := newFakeSurface(teal)
	session := newFakeSession(true, true)
	sender := NewStreamSender(smallConfig(), surface, session, nil, withCompressor(counting))

	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return len(session.Sent()) >= 1 }, 5*time.Second, 5*time.Millisecond)

	stopWithin(t, sender.Stop)
	stopWithin(t, sender.Stop)
	stopWithin(t, sender.Dispose)
	stopWithin(t, sender.Dispose)

	assert.Equal(t, 1, counting.Closes())
	assert.True(t, c.Closed())
	assert.Equal(t, 1, surface.Releases())
	assert.Zero(t, sender.PoolStats().Free)
	assert.Equal(t, SenderStopped, sender.State())
}

func TestStreamSender_DisposeWithoutStart(t *testing.T) {
	surface := newFakeSurface(teal)
	sender := NewStreamSender(smallConfig(), surface, newFakeSession(true, true), nil)

	stopWithin(t, sender.Dispose)
	stopWithin(t, sender.Dispose)

	assert.Equal(t, SenderStopped, sender.State())
	assert.Equal(t, 1, surface.Releases())

	err := sender.Start(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration), "a stopped sender cannot restart")
}

func TestStreamSender_StartTwice(t *testing.T) {
	session := newFakeSession(true, true)
	sender := NewStreamSender(smallConfig(), newFakeSurface(teal), session, nil)

	require.NoError(t, sender.Start(context.Background()))
	defer stopWithin(t, sender.Dispose)

	err := sender.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	assert.Equal(t, SenderStreaming, sender.State())
}

func TestStreamSender_TransmitFailureStopsLoop(t *testing.T) {
	sendErr := errors.New("connection reset")
	c, err := compression.NewCompressor(compression.DefaultLevel)
	require.NoError(t, err)
	counting := &countingCompressor{payloadCompressor: c}

	surface := newFakeSurface(teal)
	session := newFakeSession(true, true)
	session.sendErr = sendErr
	metrics := &recordingMetrics{}

	sender := NewStreamSender(smallConfig(), surface, session, nil,
		WithSenderMetrics(metrics),
		withCompressor(counting),
	)
	require.NoError(t, sender.Start(context.Background()))
	waitDone(t, sender)

	assert.Equal(t, SenderStopped, sender.State())
	require.Error(t, sender.Err())
	assert.True(t, errors.Is(sender.Err(), apperrors.ErrTransmit))
	assert.True(t, errors.Is(sender.Err(), sendErr))

	// no retry
	assert.Equal(t, 1, surface.snapshots)
	assert.Equal(t, 1, metrics.snapshot().sendFailures)
	assert.Equal(t, 1, counting.Closes())
	assert.Zero(t, sender.FramesSent())

	stopWithin(t, sender.Stop)
	stopWithin(t, sender.Dispose)
	assert.Equal(t, 1, counting.Closes())
}

func TestStreamSender_DemotedSenderStops(t *testing.T) {
	c, err := compression.NewCompressor(compression.DefaultLevel)
	require.NoError(t, err)
	counting := &countingCompressor{payloadCompressor: c}

	session := newFakeSession(true, true)
	sender := NewStreamSender(smallConfig(), newFakeSurface(teal), session, nil, withCompressor(counting))
	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return len(session.Sent()) >= 1 }, 5*time.Second, 5*time.Millisecond)

	session.setSender(false)
	waitDone(t, sender)
	sent := len(session.Sent())

	assert.Equal(t, SenderStopped, sender.State())
	require.Error(t, sender.Err())
	assert.True(t, errors.Is(sender.Err(), apperrors.ErrEligibility))
	assert.Equal(t, 1, counting.Closes())

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, session.Sent(), sent, "no frames after losing the role")

	stopWithin(t, sender.Stop)
	assert.Equal(t, 1, counting.Closes())
}

func TestStreamSender_OwningContextStopsLoop(t *testing.T) {
	session := newFakeSession(true, true)
	sender := NewStreamSender(smallConfig(), newFakeSurface(teal), session, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sender.Start(ctx))
	require.Eventually(t, func() bool { return len(session.Sent()) >= 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	waitDone(t, sender)

	assert.Equal(t, SenderStopped, sender.State())
	assert.NoError(t, sender.Err())
}

func TestStreamSender_CaptureFailureSkipsFrame(t *testing.T) {
	surface := newFakeSurface(teal)
	surface.failFirst = 2
	surface.snapErr = errors.New("surface not ready")
	session := newFakeSession(true, true)
	metrics := &recordingMetrics{}

	sender := NewStreamSender(smallConfig(), surface, session, nil, WithSenderMetrics(metrics))
	require.NoError(t, sender.Start(context.Background()))
	require.Eventually(t, func() bool { return len(session.Sent()) >= 1 }, 5*time.Second, 5*time.Millisecond)
	stopWithin(t, sender.Dispose)

	assert.Equal(t, []string{"capture", "capture"}, metrics.snapshot().dropped)
	assert.NoError(t, sender.Err())
}

func TestSenderState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", SenderUninitialized.String())
	assert.Equal(t, "validating", SenderValidating.String())
	assert.Equal(t, "streaming", SenderStreaming.String())
	assert.Equal(t, "stopped", SenderStopped.String())
	assert.Equal(t, "SenderState(9)", SenderState(9).String())
}
