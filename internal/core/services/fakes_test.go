package services

import (
	"context"
	"errors"
	"image/color"
	"sync"

	"texstream/internal/core/domain"
	"texstream/internal/core/ports"
)

type fakeSurface struct {
	mu        sync.Mutex
	color     color.RGBA
	width     int
	height    int
	binds     int
	snapshots int
	releases  int
	// failFirst snapshots return snapErr
	failFirst int
	snapErr   error
	bindErr   error
}

func newFakeSurface(c color.RGBA) *fakeSurface {
	return &fakeSurface{color: c}
}

func (f *fakeSurface) Bind(width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bindErr != nil {
		return f.bindErr
	}
	f.width, f.height = width, height
	f.binds++
	return nil
}

func (f *fakeSurface) Snapshot(_ context.Context, dst *domain.PixelBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	if f.snapshots <= f.failFirst {
		return f.snapErr
	}
	if !dst.Matches(f.width, f.height) {
		return errors.New("snapshot size mismatch")
	}
	dst.Fill(f.color)
	return nil
}

func (f *fakeSurface) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeSurface) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type sentFrame struct {
	code    domain.EventCode
	payload []byte
	opts    domain.SendOptions
}

type fakeSession struct {
	mu        sync.Mutex
	id        domain.ParticipantID
	connected bool
	sender    bool
	sendErr   error
	sent      []sentFrame
	handlers  map[domain.EventCode][]ports.MessageHandler
	unsubs    int
}

func newFakeSession(connected, sender bool) *fakeSession {
	return &fakeSession{
		id:        "participant-1",
		connected: connected,
		sender:    sender,
		handlers:  make(map[domain.EventCode][]ports.MessageHandler),
	}
}

func (f *fakeSession) ID() domain.ParticipantID { return f.id }

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) IsAuthorizedSender() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sender
}

func (f *fakeSession) setSender(sender bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sender = sender
}

func (f *fakeSession) Send(_ context.Context, code domain.EventCode, payload []byte, opts domain.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{code: code, payload: append([]byte(nil), payload...), opts: opts})
	return nil
}

func (f *fakeSession) Subscribe(code domain.EventCode, handler ports.MessageHandler) ports.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[code] = append(f.handlers[code], handler)
	return subscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs++
		delete(f.handlers, code)
	})
}

func (f *fakeSession) Close() error { return nil }

// deliver invokes the handlers registered for code.
func (f *fakeSession) deliver(code domain.EventCode, payload []byte) {
	f.mu.Lock()
	hs := append([]ports.MessageHandler(nil), f.handlers[code]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
}

func (f *fakeSession) Sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

type subscriptionFunc func()

func (s subscriptionFunc) Unsubscribe() { s() }

type fakeDisplay struct {
	mu      sync.Mutex
	frame   *domain.PixelBuffer
	sets    int
	visible bool
	toggles []bool
	reports []domain.ThroughputReport
}

func (d *fakeDisplay) SetImage(frame *domain.PixelBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := domain.NewPixelBuffer(frame.Width(), frame.Height())
	cp.CopyFrom(frame)
	d.frame = cp
	d.sets++
}

func (d *fakeDisplay) SetVisible(visible bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible = visible
	d.toggles = append(d.toggles, visible)
}

func (d *fakeDisplay) ReportThroughput(report domain.ThroughputReport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, report)
}

func (d *fakeDisplay) Frame() *domain.PixelBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// countingCompressor tracks how often the sender releases it.
type countingCompressor struct {
	payloadCompressor
	mu     sync.Mutex
	closes int
}

func (c *countingCompressor) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.payloadCompressor.Close()
}

func (c *countingCompressor) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type recordingMetrics struct {
	mu            sync.Mutex
	sent          []domain.FrameStats
	dropped       []string
	sendFailures  int
	received      int
	receiveErrors []string
	throughput    []int
	allocations   uint64
	reuses        uint64
}

func (m *recordingMetrics) RecordFrameSent(stats domain.FrameStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, stats)
}

func (m *recordingMetrics) RecordFrameDropped(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, stage)
}

func (m *recordingMetrics) RecordSendFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendFailures++
}

func (m *recordingMetrics) RecordFrameReceived(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
}

func (m *recordingMetrics) RecordReceiveError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveErrors = append(m.receiveErrors, code)
}

func (m *recordingMetrics) RecordThroughput(pps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throughput = append(m.throughput, pps)
}

func (m *recordingMetrics) RecordPoolStats(allocations, reuses uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocations, m.reuses = allocations, reuses
}

func (m *recordingMetrics) snapshot() recordingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return recordingMetrics{
		sent:          append([]domain.FrameStats(nil), m.sent...),
		dropped:       append([]string(nil), m.dropped...),
		sendFailures:  m.sendFailures,
		received:      m.received,
		receiveErrors: append([]string(nil), m.receiveErrors...),
		throughput:    append([]int(nil), m.throughput...),
		allocations:   m.allocations,
		reuses:        m.reuses,
	}
}
