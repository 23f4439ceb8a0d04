// Package capture provides local camera frames for a call.
package capture

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"time"
)

var ErrAlreadyStarted = errors.New("capture already started")

// Source produces images until Stop. The channel is closed once the source has stopped.
type Source interface {
	Start() (<-chan image.Image, error)
	Stop()
}

// Pattern is a synthetic source drawing a bar that sweeps across a gradient, for hosts without a
// camera.
type Pattern struct {
	width    int
	height   int
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func NewPattern(width, height int, interval time.Duration) *Pattern {
	return &Pattern{width: width, height: height, interval: interval}
}

func (that *Pattern) Start() (<-chan image.Image, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.done != nil {
		return nil, ErrAlreadyStarted
	}

	done := make(chan struct{})
	frames := make(chan image.Image, 1)
	that.done = done

	that.wg.Add(1)
	go func() {
		defer that.wg.Done()
		defer close(frames)

		ticker := time.NewTicker(that.interval)
		defer ticker.Stop()

		for tick := 0; ; tick++ {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			select {
			case frames <- that.draw(tick):
			case <-done:
				return
			default:
				// consumer is behind, skip this tick
			}
		}
	}()

	return frames, nil
}

// Stop is safe to call when the source is not running.
func (that *Pattern) Stop() {
	that.mu.Lock()
	done := that.done
	that.done = nil
	that.mu.Unlock()

	if done == nil {
		return
	}

	close(done)
	that.wg.Wait()
}

func (that *Pattern) draw(tick int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, that.width, that.height))

	barWidth := max(that.width/10, 1)
	barStart := (tick * barWidth / 2) % that.width

	for y := range that.height {
		for x := range that.width {
			shade := uint8(255 * y / max(that.height, 1))
			c := color.RGBA{R: shade, G: 64, B: 255 - shade, A: 255}
			if x >= barStart && x < barStart+barWidth {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	return img
}
