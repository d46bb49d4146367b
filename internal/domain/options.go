// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxModelLen        = 64
	MaxVoiceLen        = 32
	MaxInstructionsLen = 4096
)

var (
	ErrModelEmpty          = errors.New("model empty")
	ErrModelTooLong        = errors.New("model too long")
	ErrVoiceEmpty          = errors.New("voice empty")
	ErrVoiceTooLong        = errors.New("voice too long")
	ErrInstructionsTooLong = errors.New("instructions too long")
)

// SessionOptions selects the AI backend and the synthesized voice persona
// for one session.
type SessionOptions struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions,omitempty"`
}

func (o SessionOptions) Validate() error {
	if len(o.Model) == 0 {
		return ErrModelEmpty
	}
	if len(o.Voice) == 0 {
		return ErrVoiceEmpty
	}
	return o.ValidateOverrides()
}

// ValidateOverrides checks only the lengths, so partially filled options
// can be rejected before defaults are applied.
func (o SessionOptions) ValidateOverrides() error {
	if len(o.Model) > MaxModelLen {
		return ErrModelTooLong
	}
	if len(o.Voice) > MaxVoiceLen {
		return ErrVoiceTooLong
	}
	if len(o.Instructions) > MaxInstructionsLen {
		return ErrInstructionsTooLong
	}
	return nil
}

// WithDefaults fills empty fields from def.
func (o SessionOptions) WithDefaults(def SessionOptions) SessionOptions {
	if o.Model == "" {
		o.Model = def.Model
	}
	if o.Voice == "" {
		o.Voice = def.Voice
	}
	if o.Instructions == "" {
		o.Instructions = def.Instructions
	}
	return o
}
