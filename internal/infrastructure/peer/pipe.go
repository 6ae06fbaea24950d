package peer

import (
	"fmt"
	"sync"
)

// Pipe is an in-process byte channel pair. Messages sent on one end are
// delivered synchronously to the other end's handler. Used to exercise
// transfer sessions without a network.
type Pipe struct {
	peer *Pipe

	onMessage func(data []byte)
	closed    bool
	mu        sync.Mutex
}

// NewPipe returns both ends of a connected pipe.
func NewPipe() (*Pipe, *Pipe) {
	a := &Pipe{}
	b := &Pipe{}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *Pipe) Send(data []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipe closed")
	}
	p.mu.Unlock()

	p.peer.mu.Lock()
	handler := p.peer.onMessage
	closed := p.peer.closed
	p.peer.mu.Unlock()

	if closed {
		return fmt.Errorf("peer end closed")
	}
	if handler != nil {
		// Copy so the receiver may hold the buffer past this call.
		buf := make([]byte, len(data))
		copy(buf, data)
		handler(buf)
	}
	return nil
}

func (p *Pipe) OnMessage(fn func(data []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMessage = fn
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
