package audio

import "github.com/dkeye/Concierge/internal/config"

// Encoder turns one frame of interleaved PCM into an Opus packet.
// *opus.Encoder satisfies it.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// Decoder turns one Opus packet into interleaved PCM.
// *opus.Decoder satisfies it.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// InputDevice delivers captured PCM in chunks of any size.
type InputDevice interface {
	Start(onSamples func(pcm []int16)) error
	Close() error
}

// OutputDevice pulls PCM to play; fill must always fill out completely.
type OutputDevice interface {
	Start(fill func(out []int16)) error
	Close() error
}

type (
	InputOpener  func(cfg config.AudioConfig) (InputDevice, error)
	OutputOpener func(cfg config.AudioConfig) (OutputDevice, error)
	EncoderMaker func(cfg config.AudioConfig) (Encoder, error)
	DecoderMaker func(cfg config.AudioConfig) (Decoder, error)
)

// maxOpusPacket is the largest packet the encoder may produce.
const maxOpusPacket = 1500

// opusSilence is a 20 ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}
