package audio

import (
	"sync"
	"sync/atomic"
)

// captureBuf is the frame buffer depth between the device callback and the
// transport pump. At 4096 samples per frame this is ~4 s of headroom.
const captureBuf = 16

// Capture continuously reads fixed-size frames from an [InputDevice],
// converts them to PCM16LE, and delivers them on the Frames channel.
//
// Muting is checked synchronously per frame: while muted, captured samples
// are discarded immediately and nothing reaches the channel. The device
// handle is released by Stop, on every path including read errors.
type Capture struct {
	dev    InputDevice
	frames chan []byte
	muted  atomic.Bool

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu     sync.Mutex
	runErr error
}

// StartCapture begins reading from dev. The caller has already acquired the
// device; Capture takes exclusive ownership and releases it on Stop.
func StartCapture(dev InputDevice) *Capture {
	c := &Capture{
		dev:    dev,
		frames: make(chan []byte, captureBuf),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Frames returns the channel of encoded PCM16LE frames. It is closed when
// capture stops, whether by Stop or a device error.
func (c *Capture) Frames() <-chan []byte { return c.frames }

// SetMuted toggles the mute flag. Takes effect on the next frame.
func (c *Capture) SetMuted(muted bool) { c.muted.Store(muted) }

// Muted reports whether capture is currently muted.
func (c *Capture) Muted() bool { return c.muted.Load() }

// Err returns the device error that terminated the loop, if any. Valid
// after the Frames channel closes.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Stop terminates capture and releases the input device. Idempotent.
func (c *Capture) Stop() {
	c.once.Do(func() {
		close(c.done)
		// Closing the device unblocks a pending ReadFrame.
		_ = c.dev.Close()
	})
	c.wg.Wait()
}

func (c *Capture) loop() {
	defer c.wg.Done()
	defer close(c.frames)
	defer c.dev.Close()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		samples, err := c.dev.ReadFrame()
		if err != nil {
			select {
			case <-c.done:
				// Error caused by our own Close during Stop.
			default:
				c.mu.Lock()
				c.runErr = err
				c.mu.Unlock()
			}
			return
		}

		if c.muted.Load() {
			continue
		}

		frame := Int16ToBytes(FloatToInt16PCM(samples))
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}
