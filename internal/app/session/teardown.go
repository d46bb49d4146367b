package session

import (
	"sync"

	"github.com/dkeye/Concierge/internal/core"
)

type registration struct {
	target core.EventTarget
	typ    core.EventType
	id     core.ListenerID
}

// Arena records listener registrations so they can be detached together,
// newest first.
type Arena struct {
	mu   sync.Mutex
	regs []registration
}

// Bind attaches l to target and records the registration.
func (a *Arena) Bind(target core.EventTarget, typ core.EventType, l core.Listener) {
	id := target.AddListener(typ, l)
	a.mu.Lock()
	a.regs = append(a.regs, registration{target: target, typ: typ, id: id})
	a.mu.Unlock()
}

// Release detaches every recorded listener in reverse order. Safe to call twice.
func (a *Arena) Release() {
	a.mu.Lock()
	regs := a.regs
	a.regs = nil
	a.mu.Unlock()
	for i := len(regs) - 1; i >= 0; i-- {
		r := regs[i]
		r.target.RemoveListener(r.typ, r.id)
	}
}

func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regs)
}
