package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the session lifecycle.
type Kind string

const (
	CredentialUnavailable Kind = "credential unavailable"
	MalformedCredential   Kind = "malformed credential"
	PermissionDenied      Kind = "permission denied"
	DeviceUnavailable     Kind = "device unavailable"
	SignalingRejected     Kind = "signaling rejected"
	SessionTeardownError  Kind = "session teardown error"
)

func (k Kind) Error() string { return string(k) }

var (
	ErrSessionActive = errors.New("session already active")
	ErrNotConnected  = errors.New("session not connected")
)

// Error carries the kind of failure plus whatever the remote side said.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, core.SignalingRejected) match by kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
