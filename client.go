package gscan

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	sendTimeout       = 2 * time.Second
	subscriberBufSize = 100
)

// Client fans frames from an Adapter out to subscribers.
type Client struct {
	adapter   Adapter
	fh        *handler
	closeOnce sync.Once
}

// New creates the named adapter and opens a Client on it.
func New(ctx context.Context, adapterName string, cfg *AdapterConfig) (*Client, error) {
	adapter, err := NewAdapter(adapterName, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithAdapter(ctx, adapter)
}

func NewWithAdapter(ctx context.Context, adapter Adapter) (*Client, error) {
	if adapter == nil {
		return nil, ErrNillAdapter
	}
	if err := adapter.Open(ctx); err != nil {
		return nil, err
	}
	c := &Client{
		adapter: adapter,
		fh:      newHandler(adapter),
	}
	go c.fh.run(ctx)
	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.fh.Close()
		err = c.adapter.Close()
	})
	return err
}

// Err returns the adapter's fatal error channel.
func (c *Client) Err() <-chan error {
	return c.adapter.Err()
}

func (c *Client) Event() <-chan Event {
	return c.adapter.Event()
}

// Send queues a frame for the adapter.
func (c *Client) Send(frame *CANFrame) error {
	select {
	case c.adapter.Send() <- frame:
		return nil
	case <-time.After(sendTimeout):
		return ErrSendTimeout
	}
}

// SendFrame is a shortcut to send a standard 11bit frame
func (c *Client) SendFrame(identifier uint32, data []byte, f CANFrameType) error {
	return c.Send(NewFrame(identifier, data, f))
}

// Subscribe returns a Subscriber for the given identifiers, or every frame if
// none are given. It is closed when ctx is done.
func (c *Client) Subscribe(ctx context.Context, identifiers ...uint32) *Subscriber {
	sub := &Subscriber{
		cl:           c,
		identifiers:  make(map[uint32]struct{}, len(identifiers)),
		responseChan: make(chan *CANFrame, subscriberBufSize),
	}
	for _, id := range identifiers {
		sub.identifiers[id] = struct{}{}
	}
	c.fh.registerSubscriber(sub)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

// Wait blocks until a frame with one of the identifiers arrives.
func (c *Client) Wait(ctx context.Context, timeout time.Duration, identifiers ...uint32) (*CANFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	sub := c.Subscribe(ctx, identifiers...)
	defer sub.Close()
	frame, err := sub.wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, &TimeoutError{
			Timeout: timeout.Milliseconds(),
			Frames:  identifiers,
			Type:    "wait",
		}
	}
	return frame, err
}
