package panel

import "github.com/dkeye/Concierge/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSubscriber
)

// Policy decides what happens to a subscriber whose queue is full.
type Policy interface {
	OnBackPressure(id core.SubscriberID, f core.Frame) BackpressureAction
}

// SimplePolicy drops level frames and kicks subscribers that cannot keep up
// with status frames.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.SubscriberID, f core.Frame) BackpressureAction {
	if isLevels(f) {
		return DropFrame
	}
	return KickSubscriber
}
