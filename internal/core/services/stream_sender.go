package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
	"texstream/internal/infrastructure/compression"
	"texstream/internal/infrastructure/imaging"
	apperrors "texstream/pkg/errors"
	"texstream/pkg/optimize"
	"texstream/pkg/tracing"

	"go.uber.org/zap"
)

type SenderState int

const (
	SenderUninitialized SenderState = iota
	SenderValidating
	SenderStreaming
	SenderStopped
)

func (s SenderState) String() string {
	switch s {
	case SenderUninitialized:
		return "uninitialized"
	case SenderValidating:
		return "validating"
	case SenderStreaming:
		return "streaming"
	case SenderStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SenderState(%d)", int(s))
	}
}

// payloadCompressor is the part of compression.Compressor the loop uses.
type payloadCompressor interface {
	Compress(src []byte) ([]byte, error)
	Close() error
}

type SenderOption func(*StreamSender)

func WithSenderMetrics(m ports.MetricsRecorder) SenderOption {
	return func(s *StreamSender) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEventCode overrides the discriminator frames are tagged with.
func WithEventCode(code domain.EventCode) SenderOption {
	return func(s *StreamSender) { s.eventCode = code }
}

// WithCompressionLevel sets the gzip level used for payloads.
func WithCompressionLevel(level int) SenderOption {
	return func(s *StreamSender) { s.compressionLevel = level }
}

func withCompressor(c payloadCompressor) SenderOption {
	return func(s *StreamSender) { s.compressor = c }
}

// StreamSender captures, encodes, compresses and transmits one frame per
// scheduler interval until it is stopped, its context ends or a send fails.
//
// The pool, encoder and compressor are owned by the loop goroutine.
type StreamSender struct {
	cfg     *domain.StreamConfig
	surface ports.CaptureSurface
	session ports.Session
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	eventCode        domain.EventCode
	compressionLevel int

	pool       *optimize.FramePool[*domain.PixelBuffer]
	encoder    *imaging.Encoder
	compressor payloadCompressor
	scheduler  *RateScheduler
	width      int
	height     int

	mu     sync.Mutex
	state  SenderState
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	doneOnce      sync.Once
	releaseOnce   sync.Once
	disposeOnce   sync.Once
	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
}

func NewStreamSender(
	cfg *domain.StreamConfig,
	surface ports.CaptureSurface,
	session ports.Session,
	logger *zap.SugaredLogger,
	opts ...SenderOption,
) *StreamSender {
	if cfg == nil {
		cfg = domain.DefaultStreamConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &StreamSender{
		cfg:              cfg,
		surface:          surface,
		session:          session,
		metrics:          nopMetrics{},
		logger:           logger,
		eventCode:        domain.StreamEventCode,
		compressionLevel: compression.DefaultLevel,
		pool:             optimize.NewFramePool(domain.NewPixelBuffer),
		state:            SenderUninitialized,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the preconditions and launches the loop. A failed
// precondition leaves the sender Stopped and is returned as a configuration
// or eligibility error. Cancelling ctx stops the loop.
func (s *StreamSender) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SenderUninitialized {
		return apperrors.NewConfigurationError(fmt.Sprintf("sender cannot start from state %s", s.state))
	}
	s.state = SenderValidating

	if err := s.validate(); err != nil {
		s.abort(err)
		return err
	}
	if err := s.prepare(); err != nil {
		s.abort(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = SenderStreaming

	s.logger.Infow("stream sender started",
		"participant_id", s.session.ID(),
		"width", s.width,
		"height", s.height,
		"quality", s.cfg.Quality,
		"frame_rate", s.cfg.FrameRate.String(),
	)

	go s.run(loopCtx)
	return nil
}

func (s *StreamSender) validate() error {
	if s.surface == nil {
		return apperrors.NewConfigurationError("capture surface is not bound")
	}
	if s.session == nil {
		return apperrors.NewConfigurationError("session is not bound")
	}
	if !s.session.IsConnected() {
		return apperrors.NewEligibilityError("session is not connected")
	}
	if !s.session.IsAuthorizedSender() {
		return apperrors.NewEligibilityError("participant is not the authorized sender")
	}
	return nil
}

func (s *StreamSender) prepare() error {
	if err := s.cfg.Apply(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeConfiguration, "invalid stream config", 500)
	}
	s.width, s.height = s.cfg.Width(), s.cfg.Height()

	if err := s.surface.Bind(s.width, s.height); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeConfiguration, "failed to bind capture surface", 500)
	}

	enc, err := imaging.NewEncoder(s.cfg.Quality)
	if err != nil {
		return err
	}
	s.encoder = enc

	if s.compressor == nil {
		c, err := compression.NewCompressor(s.compressionLevel)
		if err != nil {
			return err
		}
		s.compressor = c
	}

	s.scheduler = NewRateScheduler(s.cfg.Interval())
	return nil
}

// abort moves a sender that never streamed to Stopped. Caller holds mu.
func (s *StreamSender) abort(err error) {
	s.err = err
	s.state = SenderStopped
	s.releaseCompressor()
	s.closeDone()
	s.logger.Warnw("stream sender disabled", "error", err)
}

func (s *StreamSender) run(ctx context.Context) {
	defer s.finish()

	for {
		if ctx.Err() != nil {
			return
		}
		// The role can move mid-stream (relay master_changed, an expired
		// Redis lease); a demoted sender stops instead of competing.
		if !s.session.IsAuthorizedSender() {
			err := apperrors.NewEligibilityError("participant lost the sender role")
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.logger.Warnw("sender role lost, stream stopped",
				"participant_id", s.session.ID(),
				"frames_sent", s.framesSent.Load(),
			)
			return
		}
		if err := s.tick(ctx); err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.logger.Errorw("transmit failed, stream stopped",
				"participant_id", s.session.ID(),
				"frames_sent", s.framesSent.Load(),
				"error", err,
			)
			return
		}
		if err := s.scheduler.Wait(ctx); err != nil {
			return
		}
	}
}

// tick runs one iteration. Only a failed send is returned; capture, encode
// and compress failures drop the frame.
func (s *StreamSender) tick(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.TraceFrame(ctx, "sender.tick",
		tracing.WidthKey.Int(s.width),
		tracing.HeightKey.Int(s.height),
		tracing.QualityKey.Int(s.cfg.Quality),
	)
	defer span.End()

	buf := s.pool.Acquire(s.width, s.height)
	defer s.pool.Release(buf)

	if err := s.surface.Snapshot(ctx, buf); err != nil {
		if ctx.Err() == nil {
			s.drop("capture", err)
		}
		return nil
	}

	encoded, err := s.encoder.Encode(buf)
	if err != nil {
		s.drop("encode", err)
		return nil
	}
	encodedLen := len(encoded)

	payload, err := s.compressor.Compress(encoded)
	if err != nil {
		s.drop("compress", err)
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := s.session.Send(ctx, s.eventCode, payload, domain.FrameSendOptions()); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.metrics.RecordSendFailure()
		tracing.RecordError(ctx, err)
		return apperrors.NewTransmitError(err)
	}

	s.framesSent.Add(1)
	tracing.AddSpanAttributes(ctx,
		tracing.EncodedBytesKey.Int(encodedLen),
		tracing.PayloadBytesKey.Int(len(payload)),
	)
	s.metrics.RecordFrameSent(domain.FrameStats{
		Width:           s.width,
		Height:          s.height,
		EncodedBytes:    encodedLen,
		CompressedBytes: len(payload),
		Duration:        time.Since(start),
	})
	stats := s.pool.Stats()
	s.metrics.RecordPoolStats(stats.Allocations, stats.Reuses)

	s.logger.Debugw("frame sent", "bytes", len(payload), "encoded_bytes", encodedLen)
	return nil
}

func (s *StreamSender) drop(stage string, err error) {
	s.framesDropped.Add(1)
	s.metrics.RecordFrameDropped(stage)
	s.logger.Warnw("frame dropped", "stage", stage, "error", err)
}

func (s *StreamSender) finish() {
	s.releaseCompressor()

	s.mu.Lock()
	s.state = SenderStopped
	s.mu.Unlock()

	s.logger.Infow("stream sender stopped",
		"frames_sent", s.framesSent.Load(),
		"frames_dropped", s.framesDropped.Load(),
	)
	s.closeDone()
}

func (s *StreamSender) releaseCompressor() {
	s.releaseOnce.Do(func() {
		if s.compressor == nil {
			return
		}
		if err := s.compressor.Close(); err != nil && !errors.Is(err, compression.ErrClosed) {
			s.logger.Warnw("failed to release compressor", "error", err)
		}
	})
}

func (s *StreamSender) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Stop ends the loop and waits for it to exit, or for ctx. It may be called
// any number of times from any goroutine.
func (s *StreamSender) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case SenderUninitialized:
		s.state = SenderStopped
		s.closeDone()
	case SenderStreaming:
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispose stops the sender and releases the capture surface and pooled
// frames. Only the first successful call releases anything.
func (s *StreamSender) Dispose(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}

	var err error
	s.disposeOnce.Do(func() {
		s.releaseCompressor()
		if s.surface != nil {
			if rerr := s.surface.Release(); rerr != nil {
				err = fmt.Errorf("release capture surface: %w", rerr)
			}
		}
		s.pool.Drain()
	})
	return err
}

func (s *StreamSender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the reason the sender stopped, nil after a requested stop.
func (s *StreamSender) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the sender is Stopped.
func (s *StreamSender) Done() <-chan struct{} {
	return s.done
}

func (s *StreamSender) FramesSent() uint64 {
	return s.framesSent.Load()
}

func (s *StreamSender) PoolStats() optimize.PoolStats {
	return s.pool.Stats()
}
