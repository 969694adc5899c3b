package display

import (
	"errors"
	"sync"
	"time"

	"texstream/internal/core/domain"
	"texstream/internal/infrastructure/imaging"
)

// ErrNoFrame is returned before the first frame arrives.
var ErrNoFrame = errors.New("no frame received yet")

// LatestFrame is a display target that keeps only the newest frame. Readers
// (the HTTP viewer) never block the receiver for longer than a copy.
type LatestFrame struct {
	mu        sync.RWMutex
	front     *domain.PixelBuffer
	back      *domain.PixelBuffer
	seq       uint64
	updatedAt time.Time
	visible   bool
	report    domain.ThroughputReport

	quality  int
	encMu    sync.Mutex
	encSeq   uint64
	encBytes []byte
}

// Status is what /stats reports about the display.
type Status struct {
	Visible    bool      `json:"visible"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Frames     uint64    `json:"frames"`
	UpdatedAt  time.Time `json:"updated_at"`
	Throughput string    `json:"throughput"`
	Packets    int       `json:"packets_per_second"`
}

// NewLatestFrame creates an empty, hidden display. quality is used for the
// JPEG served by Encoded.
func NewLatestFrame(quality int) *LatestFrame {
	if quality < 1 || quality > domain.MaxQuality {
		quality = 85
	}
	return &LatestFrame{quality: quality}
}

// SetImage copies frame into the back buffer and swaps it to the front.
func (d *LatestFrame) SetImage(frame *domain.PixelBuffer) {
	if frame == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.back.Matches(frame.Width(), frame.Height()) {
		d.back = domain.NewPixelBuffer(frame.Width(), frame.Height())
	}
	d.back.CopyFrom(frame)
	d.front, d.back = d.back, d.front
	d.seq++
	d.updatedAt = time.Now()
}

func (d *LatestFrame) SetVisible(visible bool) {
	d.mu.Lock()
	d.visible = visible
	d.mu.Unlock()
}

func (d *LatestFrame) ReportThroughput(report domain.ThroughputReport) {
	d.mu.Lock()
	d.report = report
	d.mu.Unlock()
}

func (d *LatestFrame) Visible() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.visible
}

// ThroughputText is the last "Packets/sec: N" line.
func (d *LatestFrame) ThroughputText() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.report.String()
}

// Snapshot returns a private copy of the current frame and its sequence
// number.
func (d *LatestFrame) Snapshot() (*domain.PixelBuffer, uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.front == nil {
		return nil, 0, ErrNoFrame
	}
	cp := domain.NewPixelBuffer(d.front.Width(), d.front.Height())
	cp.CopyFrom(d.front)
	return cp, d.seq, nil
}

// Encoded returns the current frame as JPEG. The bytes are cached until the
// next frame and must not be modified.
func (d *LatestFrame) Encoded() ([]byte, uint64, error) {
	d.encMu.Lock()
	defer d.encMu.Unlock()

	d.mu.RLock()
	seq := d.seq
	d.mu.RUnlock()

	if seq != 0 && seq == d.encSeq {
		return d.encBytes, seq, nil
	}

	frame, seq, err := d.Snapshot()
	if err != nil {
		return nil, 0, err
	}
	data, err := imaging.Encode(frame, d.quality)
	if err != nil {
		return nil, 0, err
	}
	d.encSeq, d.encBytes = seq, data
	return data, seq, nil
}

func (d *LatestFrame) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Status{
		Visible:    d.visible,
		Frames:     d.seq,
		UpdatedAt:  d.updatedAt,
		Throughput: d.report.String(),
		Packets:    d.report.Packets,
	}
	if d.front != nil {
		s.Width, s.Height = d.front.Width(), d.front.Height()
	}
	return s
}
