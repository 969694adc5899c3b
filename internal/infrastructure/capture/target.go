package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"
)

// ErrNotBound is returned by Snapshot before Bind or after Release.
var ErrNotBound = errors.New("capture surface is not bound")

// renderTarget is the RGBA image a surface draws into before the pixels are
// copied out. It is shared by every surface in this package.
type renderTarget struct {
	mu       sync.Mutex
	rgba     *image.RGBA
	binds    int
	releases int
}

func (t *renderTarget) bind(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", width, height)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rgba != nil {
		b := t.rgba.Bounds()
		if b.Dx() == width && b.Dy() == height {
			return nil
		}
		t.rgba = nil
		t.releases++
	}
	t.rgba = image.NewRGBA(image.Rect(0, 0, width, height))
	t.binds++
	return nil
}

func (t *renderTarget) release() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rgba != nil {
		t.rgba = nil
		t.releases++
	}
	return nil
}

// Binds and Releases count target allocations and frees.
func (t *renderTarget) Binds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.binds
}

func (t *renderTarget) Releases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.releases
}

// Size is the bound size, zero when unbound.
func (t *renderTarget) Size() (width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rgba == nil {
		return 0, 0
	}
	return t.rgba.Bounds().Dx(), t.rgba.Bounds().Dy()
}
