package webserver

import (
	"sync"

	"github.com/google/uuid"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/metrics"
)

// DefaultClientBuffer is large enough to hold a full log replay plus the
// connected ack.
const DefaultClientBuffer = 256

// streamClient is the hub-side handle of one HTTP streaming connection.
// Delivery never blocks: when the buffer is full the message is dropped and
// the connection stays open.
type streamClient struct {
	id        string
	transport string
	ch        chan events.Message
	done      chan struct{}
	once      sync.Once
}

func newStreamClient(transport string, size int) *streamClient {
	if size <= 0 {
		size = DefaultClientBuffer
	}
	return &streamClient{
		id:        uuid.NewString(),
		transport: transport,
		ch:        make(chan events.Message, size),
		done:      make(chan struct{}),
	}
}

func (c *streamClient) ID() string { return c.id }

func (c *streamClient) Deliver(m events.Message) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.ch <- m:
	default:
		metrics.MessagesDropped.WithLabelValues(c.transport).Inc()
	}
	return nil
}

// Close is called by the hub after detaching the client. It ends the
// handler loop.
func (c *streamClient) Close() {
	c.once.Do(func() { close(c.done) })
}
