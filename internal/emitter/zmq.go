// Package emitter publishes detection events to external brokers.
package emitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"smilecam/internal/types"
)

// ZMQPublisher binds a PUB socket and sends every event as a two-frame
// message: the event kind (for subscriber filtering) and the CBOR event.
type ZMQPublisher struct {
	endpoint string

	mu     sync.Mutex
	socket *zmq4.Socket
}

func NewZMQPublisher(endpoint string) (*ZMQPublisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}
	return &ZMQPublisher{endpoint: endpoint, socket: socket}, nil
}

func (p *ZMQPublisher) Endpoint() string {
	return p.endpoint
}

func (p *ZMQPublisher) Name() string {
	return "zmq"
}

func (p *ZMQPublisher) Handle(_ context.Context, ev types.Event) error {
	payload, err := cbor.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return fmt.Errorf("zmq publisher is closed")
	}
	_, err = p.socket.SendMessage(string(ev.Kind), payload)
	return err
}

func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}
