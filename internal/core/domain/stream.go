package domain

import (
	"fmt"
	"math"
	"time"
)

// FrameRatePreset is one of the supported capture cadences, in frames per second.
type FrameRatePreset int

const (
	FrameRate20 FrameRatePreset = 20
	FrameRate24 FrameRatePreset = 24
	FrameRate30 FrameRatePreset = 30
	FrameRate60 FrameRatePreset = 60
)

const (
	DefaultCaptureHeight = 620
	DefaultQuality       = 30
	DefaultFrameRate     = FrameRate30

	// DefaultMaxFramePixels is 8K UHD, the largest frame a receiver decodes
	// unless configured otherwise.
	DefaultMaxFramePixels = 7680 * 4320

	MinQuality = 0
	MaxQuality = 100

	aspectWidth  = 16
	aspectHeight = 9
)

// ParseFrameRate converts a plain fps number into a preset.
func ParseFrameRate(fps int) (FrameRatePreset, error) {
	p := FrameRatePreset(fps)
	if !p.Valid() {
		return 0, fmt.Errorf("unsupported frame rate %d (want 20, 24, 30 or 60)", fps)
	}
	return p, nil
}

func (p FrameRatePreset) Valid() bool {
	switch p {
	case FrameRate20, FrameRate24, FrameRate30, FrameRate60:
		return true
	}
	return false
}

// Interval returns the wait between two frames, 1/fps. Invalid presets
// return zero.
func (p FrameRatePreset) Interval() time.Duration {
	if !p.Valid() {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(p))
}

func (p FrameRatePreset) String() string {
	return fmt.Sprintf("%dfps", int(p))
}

// DeriveWidth returns the 16:9 width for a capture height.
func DeriveWidth(height int) int {
	return int(math.Round(float64(height) * aspectWidth / aspectHeight))
}

// StreamConfig holds the sender presets. Apply fixes width, height and
// interval exactly once; later changes to the exported fields have no effect
// on an applied config.
type StreamConfig struct {
	CaptureHeight int
	Quality       int
	FrameRate     FrameRatePreset

	applied  bool
	width    int
	height   int
	interval time.Duration
}

func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		CaptureHeight: DefaultCaptureHeight,
		Quality:       DefaultQuality,
		FrameRate:     DefaultFrameRate,
	}
}

func (c *StreamConfig) Validate() error {
	if c.CaptureHeight <= 0 {
		return fmt.Errorf("capture height must be > 0, got %d", c.CaptureHeight)
	}
	if c.Quality < MinQuality || c.Quality > MaxQuality {
		return fmt.Errorf("quality must be within %d..%d, got %d", MinQuality, MaxQuality, c.Quality)
	}
	if !c.FrameRate.Valid() {
		return fmt.Errorf("unsupported frame rate preset %d", int(c.FrameRate))
	}
	return nil
}

// Apply computes the derived presets. Calling it again is a no-op.
func (c *StreamConfig) Apply() error {
	if c.applied {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}

	c.height = c.CaptureHeight
	c.width = DeriveWidth(c.CaptureHeight)
	c.interval = c.FrameRate.Interval()
	c.applied = true
	return nil
}

func (c *StreamConfig) Applied() bool           { return c.applied }
func (c *StreamConfig) Width() int              { return c.width }
func (c *StreamConfig) Height() int             { return c.height }
func (c *StreamConfig) Interval() time.Duration { return c.interval }
