package services

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/infrastructure/compression"
	"texstream/internal/infrastructure/imaging"
	apperrors "texstream/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func framePayload(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	buf := domain.NewPixelBuffer(width, height)
	buf.Fill(c)
	encoded, err := imaging.Encode(buf, 90)
	require.NoError(t, err)
	payload, err := compression.Compress(encoded)
	require.NoError(t, err)
	return payload
}

func assertColorNear(t *testing.T, frame *domain.PixelBuffer, want color.RGBA, tolerance int) {
	t.Helper()
	r, g, b := frame.RGBAt(frame.Width()/2, frame.Height()/2)
	assert.InDelta(t, int(want.R), int(r), float64(tolerance))
	assert.InDelta(t, int(want.G), int(g), float64(tolerance))
	assert.InDelta(t, int(want.B), int(b), float64(tolerance))
}

func TestStreamReceiver_Activate(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		sender    bool
		wantErr   error
	}{
		{name: "connected viewer", connected: true, sender: false},
		{name: "disconnected", connected: false, sender: false, wantErr: apperrors.ErrEligibility},
		{name: "sender does not receive", connected: true, sender: true, wantErr: apperrors.ErrEligibility},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession(tt.connected, tt.sender)
			display := &fakeDisplay{}
			receiver := NewStreamReceiver(session, display, nil)

			err := receiver.Activate()
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.False(t, display.visible)
				assert.False(t, receiver.Active())
				assert.Empty(t, session.handlers)
				return
			}

			require.NoError(t, err)
			assert.True(t, display.visible)
			assert.True(t, receiver.Active())
			assert.Len(t, session.handlers[domain.StreamEventCode], 1)

			require.NoError(t, receiver.Activate())
			assert.Len(t, session.handlers[domain.StreamEventCode], 1, "second activate is a no-op")
		})
	}
}

func TestStreamReceiver_ActivateMissingBindings(t *testing.T) {
	err := NewStreamReceiver(newFakeSession(true, false), nil, nil).Activate()
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))

	display := &fakeDisplay{visible: true}
	err = NewStreamReceiver(nil, display, nil).Activate()
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	assert.False(t, display.visible)
}

func TestStreamReceiver_DisplaysFrames(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	metrics := &recordingMetrics{}
	receiver := NewStreamReceiver(session, display, nil, WithReceiverMetrics(metrics))
	require.NoError(t, receiver.Activate())

	red := color.RGBA{R: 200, G: 30, B: 30, A: 255}
	session.deliver(domain.StreamEventCode, framePayload(t, 64, 36, red))

	frame := display.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, 64, frame.Width())
	assert.Equal(t, 36, frame.Height())
	assertColorNear(t, frame, red, 8)

	// last write wins
	blue := color.RGBA{R: 20, G: 40, B: 220, A: 255}
	session.deliver(domain.StreamEventCode, framePayload(t, 64, 36, blue))
	assertColorNear(t, display.Frame(), blue, 8)

	displayed, rejected := receiver.Stats()
	assert.Equal(t, uint64(2), displayed)
	assert.Zero(t, rejected)
	assert.Equal(t, 2, receiver.Count())
	assert.Equal(t, 2, metrics.snapshot().received)
}

func TestStreamReceiver_IgnoresOtherEventCodes(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil)
	require.NoError(t, receiver.Activate())

	session.deliver(domain.EventCode(9), framePayload(t, 16, 9, color.White))

	assert.Nil(t, display.Frame())
	assert.Zero(t, receiver.Count())
}

func TestStreamReceiver_AcceptsNewDimensions(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil)
	require.NoError(t, receiver.Activate())

	session.deliver(domain.StreamEventCode, framePayload(t, 32, 18, color.White))
	session.deliver(domain.StreamEventCode, framePayload(t, 64, 36, color.White))

	frame := display.Frame()
	require.NotNil(t, frame)
	assert.Equal(t, 64, frame.Width())
	assert.Equal(t, 36, frame.Height())
}

func TestStreamReceiver_CorruptInputKeepsPreviousFrame(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	metrics := &recordingMetrics{}
	receiver := NewStreamReceiver(session, display, nil, WithReceiverMetrics(metrics))
	require.NoError(t, receiver.Activate())

	green := color.RGBA{R: 20, G: 180, B: 40, A: 255}
	session.deliver(domain.StreamEventCode, framePayload(t, 48, 27, green))
	good := display.Frame()
	require.NotNil(t, good)

	notJPEG, err := compression.Compress([]byte("definitely not a jpeg"))
	require.NoError(t, err)

	inputs := map[string][]byte{
		"empty":      {},
		"random":     []byte{0x13, 0x37, 0xbe, 0xef, 0x00, 0x42, 0x99},
		"truncated":  framePayload(t, 48, 27, color.Black)[:20],
		"not a jpeg": notJPEG,
	}
	for name, payload := range inputs {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() { receiver.OnMessage(payload) })
			assert.Same(t, good, display.Frame())
		})
	}

	assert.Equal(t, 1, display.sets)
	_, rejected := receiver.Stats()
	assert.Equal(t, uint64(4), rejected)
	assert.ElementsMatch(t, []string{
		string(apperrors.ErrCodeCorruptStream),
		string(apperrors.ErrCodeCorruptStream),
		string(apperrors.ErrCodeCorruptStream),
		string(apperrors.ErrCodeDecode),
	}, metrics.snapshot().receiveErrors)
	assert.Equal(t, 5, receiver.Count(), "every message counts towards throughput")
}

func TestStreamReceiver_MaxPayload(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil, WithMaxPayload(64))
	require.NoError(t, receiver.Activate())

	session.deliver(domain.StreamEventCode, framePayload(t, 64, 36, color.White))

	assert.Nil(t, display.Frame())
	_, rejected := receiver.Stats()
	assert.Equal(t, uint64(1), rejected)
}

// headerBombPayload is a wire payload of a few hundred bytes whose JPEG frame
// header claims size x size pixels and whose scan data is cut short.
func headerBombPayload(t *testing.T, size int) []byte {
	t.Helper()
	src := domain.NewPixelBuffer(16, 16)
	src.Fill(color.White)
	data, err := imaging.Encode(src, 90)
	require.NoError(t, err)

	sof := bytes.Index(data, []byte{0xff, 0xc0})
	require.Positive(t, sof)
	sos := bytes.Index(data, []byte{0xff, 0xda})
	require.Greater(t, sos, sof)

	forged := bytes.Clone(data[:sos+20])
	forged[sof+5], forged[sof+6] = byte(size>>8), byte(size)
	forged[sof+7], forged[sof+8] = byte(size>>8), byte(size)

	payload, err := compression.Compress(forged)
	require.NoError(t, err)
	return payload
}

func TestStreamReceiver_OversizedHeaderKeepsPreviousFrame(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	metrics := &recordingMetrics{}
	receiver := NewStreamReceiver(session, display, nil, WithReceiverMetrics(metrics))
	require.NoError(t, receiver.Activate())

	session.deliver(domain.StreamEventCode, framePayload(t, 32, 18, color.White))
	good := display.Frame()
	require.NotNil(t, good)

	for _, size := range []int{20000, 65500} {
		payload := headerBombPayload(t, size)
		require.Less(t, len(payload), 1024)
		assert.NotPanics(t, func() { session.deliver(domain.StreamEventCode, payload) })
		assert.Same(t, good, display.Frame())
	}

	displayed, rejected := receiver.Stats()
	assert.Equal(t, uint64(1), displayed)
	assert.Equal(t, uint64(2), rejected)
	assert.Equal(t, []string{string(apperrors.ErrCodeDecode), string(apperrors.ErrCodeDecode)},
		metrics.snapshot().receiveErrors)
}

func TestStreamReceiver_MaxFramePixels(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil, WithMaxFramePixels(32*18))
	require.NoError(t, receiver.Activate())

	session.deliver(domain.StreamEventCode, framePayload(t, 32, 18, color.White))
	require.NotNil(t, display.Frame())

	session.deliver(domain.StreamEventCode, framePayload(t, 64, 36, color.White))
	assert.Equal(t, 32, display.Frame().Width())
	_, rejected := receiver.Stats()
	assert.Equal(t, uint64(1), rejected)
}

func TestStreamReceiver_Throughput(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	metrics := &recordingMetrics{}
	receiver := NewStreamReceiver(session, display, nil, WithReceiverMetrics(metrics))
	require.NoError(t, receiver.Activate())

	payload := framePayload(t, 16, 9, color.White)
	for i := 0; i < 3; i++ {
		session.deliver(domain.StreamEventCode, payload)
	}

	_, ok := receiver.Advance(500 * time.Millisecond)
	assert.False(t, ok)
	assert.Equal(t, 3, receiver.Count())

	report, ok := receiver.Advance(500 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 3, report.Packets)
	assert.Equal(t, "Packets/sec: 3", report.String())
	assert.Equal(t, 3, receiver.PacketsPerSecond())
	assert.Zero(t, receiver.Count(), "counter resets after a report")

	report, ok = receiver.Advance(time.Second)
	require.True(t, ok)
	assert.Zero(t, report.Packets)

	require.Len(t, display.reports, 2)
	assert.Equal(t, 3, display.reports[0].Packets)
	assert.Equal(t, []int{3, 0}, metrics.snapshot().throughput)
}

func TestStreamReceiver_RunReportsEachWindow(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil, WithThroughputWindow(10*time.Millisecond))
	require.NoError(t, receiver.Activate())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- receiver.Run(ctx) }()

	require.Eventually(t, func() bool {
		display.mu.Lock()
		defer display.mu.Unlock()
		return len(display.reports) >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestStreamReceiver_Close(t *testing.T) {
	session := newFakeSession(true, false)
	display := &fakeDisplay{}
	receiver := NewStreamReceiver(session, display, nil)
	require.NoError(t, receiver.Activate())

	require.NoError(t, receiver.Close())
	require.NoError(t, receiver.Close())

	assert.Equal(t, 1, session.unsubs)
	assert.False(t, display.visible)
	assert.False(t, receiver.Active())

	session.deliver(domain.StreamEventCode, framePayload(t, 16, 9, color.White))
	assert.Nil(t, display.Frame())
}
