// Package audio wires the device's microphone and speaker to Opus frames
// going in and out over the wire. Capability interfaces keep driver code
// external to this package; the pipelines here own only the
// encode/decode and goroutine lifecycle, grounded on
// original_source/src/core/ai_vox_engine_impl.{h,cpp}'s AudioInputEngine/
// AudioOutputEngine and on a standard Opus decode loop for the
// 960-sample int16 PCM buffer convention.
package audio

import (
	"fmt"
	"sync"

	"gopkg.in/hraban/opus.v2"

	"github.com/aivox/voxengine/log"
	"github.com/aivox/voxengine/model"
)

const (
	sampleRate       = 16000
	channels         = 1
	opusFrameSamples = 960 // 60ms at 16kHz mono
	frameDurationMs  = 60
)

// InputDevice is the capability interface a host provides for capturing
// PCM from a microphone. ReadPCM blocks until it fills buf or ctx-like
// cancellation happens; implementations live outside this module.
type InputDevice interface {
	ReadPCM(buf []int16) (n int, err error)
}

// OutputDevice is the capability interface a host provides for playing
// PCM through a speaker.
type OutputDevice interface {
	WritePCM(pcm []int16) error
}

// InputPipeline reads PCM from an InputDevice, encodes it as Opus, and
// invokes onFrame for each encoded frame, standing in for
// EngineImpl::audio_input_engine_.
type InputPipeline struct {
	device  InputDevice
	onFrame func(model.AudioFrame)
	encoder *opus.Encoder

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewInputPipeline starts the capture goroutine immediately.
func NewInputPipeline(device InputDevice, onFrame func(model.AudioFrame)) (*InputPipeline, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	p := &InputPipeline{
		device:  device,
		onFrame: onFrame,
		encoder: enc,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *InputPipeline) run() {
	defer close(p.done)

	pcm := make([]int16, opusFrameSamples)
	opusBuf := make([]byte, 4000)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := p.device.ReadPCM(pcm)
		if err != nil {
			log.Errorf("audio input read error: %v", err)
			return
		}
		if n == 0 {
			continue
		}

		encoded, err := p.encoder.Encode(pcm[:n], opusBuf)
		if err != nil {
			log.Errorf("opus encode error: %v", err)
			continue
		}

		frame := make(model.AudioFrame, encoded)
		copy(frame, opusBuf[:encoded])
		p.onFrame(frame)
	}
}

// Stop ends the capture goroutine. Idempotent, matching the original's
// pattern of simply dropping audio_input_engine_'s owning pointer.
func (p *InputPipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// OutputPipeline decodes inbound Opus frames into PCM and writes them to
// an OutputDevice, standing in for EngineImpl::audio_output_engine_.
type OutputPipeline struct {
	device  OutputDevice
	decoder *opus.Decoder

	frames chan model.AudioFrame
	wake   chan struct{}
	done   chan struct{}

	stopOnce sync.Once

	mu           sync.Mutex
	onEnd        func()
	endRequested bool
	endFired     bool
}

// NewOutputPipeline starts the drain goroutine immediately.
func NewOutputPipeline(device OutputDevice) (*OutputPipeline, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	p := &OutputPipeline{
		device:  device,
		decoder: dec,
		frames:  make(chan model.AudioFrame, 32),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (p *OutputPipeline) run() {
	defer close(p.done)

	pcmBuffer := make([]int16, opusFrameSamples)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				p.fireEnd()
				return
			}
			if n, err := p.decoder.Decode(frame, pcmBuffer); err != nil {
				log.Errorf("opus decode error: %v", err)
			} else if err := p.device.WritePCM(pcmBuffer[:n]); err != nil {
				log.Errorf("audio output write error: %v", err)
			}
		case <-p.wake:
		}
		p.fireEndIfDrained()
	}
}

// fireEndIfDrained fires the pending NotifyDataEnd callback, if any, once
// the frame queue has been fully consumed. Run after every frame so the
// callback fires the moment the queue drains, with no dependency on Stop
// ever being called.
func (p *OutputPipeline) fireEndIfDrained() {
	p.mu.Lock()
	if !p.endRequested || p.endFired || len(p.frames) != 0 {
		p.mu.Unlock()
		return
	}
	cb := p.onEnd
	p.endFired = true
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// fireEnd fires the pending callback unconditionally, used when the
// frame channel itself has been closed by Stop (so nothing will ever be
// queued again, whether or not NotifyDataEnd asked for this).
func (p *OutputPipeline) fireEnd() {
	p.mu.Lock()
	if p.endFired {
		p.mu.Unlock()
		return
	}
	cb := p.onEnd
	p.endFired = true
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Write enqueues an inbound Opus frame for decoding and playback. A frame
// written after Stop is silently dropped.
func (p *OutputPipeline) Write(frame model.AudioFrame) {
	defer func() { recover() }() // guards the rare send-on-closed-channel race with Stop
	select {
	case p.frames <- frame:
	case <-p.done:
	}
}

// NotifyDataEnd registers a one-shot callback fired as soon as every
// frame queued so far has been decoded and played, i.e. once the
// playback queue has been fully consumed, independent of whether Stop
// is ever called.
// If the queue is already empty (or the pipeline already stopped), the
// callback fires before NotifyDataEnd returns.
func (p *OutputPipeline) NotifyDataEnd(cb func()) {
	p.mu.Lock()
	if p.endFired {
		p.mu.Unlock()
		cb()
		return
	}
	p.onEnd = cb
	p.endRequested = true
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stop closes the frame channel, causing the drain goroutine to exit
// once anything already queued has played. Idempotent. Safe to call
// whether or not NotifyDataEnd's callback has already fired.
func (p *OutputPipeline) Stop() {
	p.stopOnce.Do(func() { close(p.frames) })
	<-p.done
}
