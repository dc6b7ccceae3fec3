// Package wake implements the wake-word detector harness: goroutine
// lifecycle, start/stop idempotency, and "exactly one callback per Start"
// around a pluggable keyword-spotting Backend. Grounded on
// original_source/src/core/wake_net/wake_net.h's WakeNet, whose
// feed_task_/detect_task_ split across two ActiveTaskQueues becomes a
// feed goroutine and a detect goroutine here; the neural model itself
// (esp_afe_sr_data_t) is an opaque external component neither this nor
// the original reimplements.
package wake

import (
	"sync"

	"github.com/aivox/voxengine/audio"
	"github.com/aivox/voxengine/log"
)

const feedFrameSamples = 512

// Backend is the pluggable keyword spotter. Feed receives one frame of
// PCM at a time and reports whether the wake word was detected in it.
type Backend interface {
	Feed(pcm []int16) (detected bool)
}

// Detector owns a feed goroutine (reading PCM off an audio.InputDevice)
// and a detect goroutine (consuming frames from it), matching WakeNet's
// two-task split. Start is idempotent: calling it while already running
// is a no-op, matching the original dropping a second Start silently.
type Detector struct {
	device  audio.InputDevice
	backend Backend

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func New(device audio.InputDevice, backend Backend) *Detector {
	if backend == nil {
		backend = NewEnergyBackend(DefaultEnergyThreshold)
	}
	return &Detector{device: device, backend: backend}
}

// Start launches the feed/detect goroutines and arranges for onWake to
// be invoked exactly once, the first time the backend reports detection
// after this Start call. Calling Start while already running is a no-op.
func (d *Detector) Start(onWake func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})

	frames := make(chan []int16, 4)
	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.feedLoop(d.stop, frames) }()
	go func() { defer d.wg.Done(); d.detectLoop(d.stop, frames, onWake) }()
}

func (d *Detector) feedLoop(stop <-chan struct{}, frames chan<- []int16) {
	pcm := make([]int16, feedFrameSamples)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := d.device.ReadPCM(pcm)
		if err != nil {
			log.Errorf("wake detector feed error: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		frame := make([]int16, n)
		copy(frame, pcm[:n])
		select {
		case frames <- frame:
		case <-stop:
			return
		}
	}
}

func (d *Detector) detectLoop(stop <-chan struct{}, frames <-chan []int16, onWake func()) {
	fired := false
	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			if fired {
				continue
			}
			if d.backend.Feed(frame) {
				fired = true
				if onWake != nil {
					onWake()
				}
			}
		}
	}
}

// Stop ends both goroutines. Idempotent and safe to call many times
// across many Start/Stop cycles of the same Detector, matching the
// original's reusable WakeNet instance across sessions.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	stop := d.stop
	d.running = false
	d.mu.Unlock()

	close(stop)
	d.wg.Wait()
}
