// Package device binds the audio pipeline to the host sound system
// (miniaudio through malgo) and to libopus.
package device

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/adapters/audio"
	"github.com/dkeye/Concierge/internal/config"
)

// Context owns the malgo context shared by every device it opens.
type Context struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (*Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("module", "audio.device").Msg(message)
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

func (c *Context) Close() error {
	if err := c.ctx.Uninit(); err != nil {
		return err
	}
	c.ctx.Free()
	return nil
}

// OpenInput is an audio.InputOpener for the default microphone.
func (c *Context) OpenInput(cfg config.AudioConfig) (audio.InputDevice, error) {
	return &device{ctx: c.ctx, kind: malgo.Capture, cfg: cfg}, nil
}

// OpenOutput is an audio.OutputOpener for the default speaker.
func (c *Context) OpenOutput(cfg config.AudioConfig) (audio.OutputDevice, error) {
	return &device{ctx: c.ctx, kind: malgo.Playback, cfg: cfg}, nil
}

type device struct {
	ctx  *malgo.AllocatedContext
	kind malgo.DeviceType
	cfg  config.AudioConfig

	mu  sync.Mutex
	dev *malgo.Device
	pcm []int16
}

func (d *device) deviceConfig() malgo.DeviceConfig {
	dc := malgo.DefaultDeviceConfig(d.kind)
	dc.SampleRate = uint32(d.cfg.SampleRate)
	dc.PeriodSizeInMilliseconds = uint32(d.cfg.FrameMS)
	dc.Alsa.NoMMap = 1
	if d.kind == malgo.Capture {
		dc.Capture.Format = malgo.FormatS16
		dc.Capture.Channels = uint32(d.cfg.Channels)
	} else {
		dc.Playback.Format = malgo.FormatS16
		dc.Playback.Channels = uint32(d.cfg.Channels)
	}
	return dc
}

// Start for a capture device.
func (d *device) startCapture(onSamples func([]int16)) error {
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			pcm := bytesToPCM(input, d.pcm[:0])
			d.pcm = pcm
			onSamples(pcm)
		},
	}
	return d.init(callbacks)
}

func (d *device) startPlayback(fill func([]int16)) error {
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n := len(output) / 2
			if cap(d.pcm) < n {
				d.pcm = make([]int16, n)
			}
			pcm := d.pcm[:n]
			fill(pcm)
			for i, s := range pcm {
				binary.LittleEndian.PutUint16(output[i*2:], uint16(s))
			}
		},
	}
	return d.init(callbacks)
}

func (d *device) init(callbacks malgo.DeviceCallbacks) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev != nil {
		return fmt.Errorf("device already started")
	}
	dev, err := malgo.InitDevice(d.ctx.Context, d.deviceConfig(), callbacks)
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start device: %w", err)
	}
	d.dev = dev
	return nil
}

func (d *device) Start(fn func([]int16)) error {
	if d.kind == malgo.Capture {
		return d.startCapture(fn)
	}
	return d.startPlayback(fn)
}

func (d *device) Close() error {
	d.mu.Lock()
	dev := d.dev
	d.dev = nil
	d.mu.Unlock()
	if dev == nil {
		return nil
	}
	err := dev.Stop()
	dev.Uninit()
	return err
}

func bytesToPCM(b []byte, dst []int16) []int16 {
	for i := 0; i+1 < len(b); i += 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(b[i:])))
	}
	return dst
}
