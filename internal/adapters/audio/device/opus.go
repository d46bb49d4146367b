package device

import (
	"github.com/hraban/opus"

	"github.com/dkeye/Concierge/internal/adapters/audio"
	"github.com/dkeye/Concierge/internal/config"
)

// NewEncoder is an audio.EncoderMaker tuned for speech.
func NewEncoder(cfg config.AudioConfig) (audio.Encoder, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, err
	}
	return enc, nil
}

// NewDecoder is an audio.DecoderMaker.
func NewDecoder(cfg config.AudioConfig) (audio.Decoder, error) {
	dec, err := opus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, err
	}
	return dec, nil
}
