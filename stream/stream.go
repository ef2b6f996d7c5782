// Package stream consumes the node's server-pushed event channel.
//
// An EventStream owns the open HTTP body of a streaming call. A reader
// goroutine deframes the body and queues events; Next hands them out in
// arrival order.
//
//	        Close()                      body ends / trailer
//	Open ──────────────→ Closed    Open ───────────────────→ Draining ──(queue empty)──→ Closed
//
// Next never blocks past Close: every pull after it returns (nil, nil).
package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"glweb/message"
	"glweb/protocol"
	"glweb/status"
	"glweb/transport"

	"go.uber.org/zap"
)

// State is the lifecycle position of an EventStream.
type State int32

const (
	Open State = iota
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "invalid"
	}
}

// EventDecoder decodes one frame payload.
type EventDecoder interface {
	Decode(payload []byte) (*NodeEvent, error)
}

type item struct {
	event *NodeEvent
	err   error
}

// EventStream is a lazy sequence of NodeEvents. One consumer at a time.
type EventStream struct {
	body    io.ReadCloser
	decoder EventDecoder
	logger  *zap.Logger

	mu         sync.Mutex
	state      State
	queue      []item
	readerDone bool

	signal    chan struct{} // cap 1, poked after every enqueue
	done      chan struct{} // closed by Close
	closeOnce sync.Once
	closeErr  error
}

// New starts consuming body.
func New(body io.ReadCloser, decoder EventDecoder, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventStream{
		body:    body,
		decoder: decoder,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *EventStream) readLoop() {
	for {
		frame, err := protocol.Decode(s.body)
		if err != nil {
			if s.closedLocally() {
				return
			}
			switch {
			case errors.Is(err, io.EOF):
				s.finish(nil)
			case isFrameError(err):
				s.finish(err)
			default:
				s.finish(&transport.Error{Op: "read", URL: "event stream", Err: err})
			}
			return
		}

		if frame.IsTrailer() {
			s.finish(trailerError(frame.Payload))
			return
		}

		ev, err := s.decoder.Decode(frame.Payload)
		if err != nil {
			s.logger.Warn("undecodable event", zap.Error(err))
			s.push(item{err: err})
			continue
		}
		s.push(item{event: ev})
	}
}

func isFrameError(err error) bool {
	var fe *protocol.FrameError
	return errors.As(err, &fe)
}

// trailerError returns the error carried by a trailer frame, or nil for OK.
func trailerError(block []byte) error {
	h := message.ParseTrailers(block)
	v := h.Get(message.HeaderGRPCStatus)
	if v == "" {
		return nil
	}
	code := status.Parse(v)
	if status.IsOK(code) {
		return nil
	}
	return message.NewRPCError(code, &message.Response{Header: h})
}

func (s *EventStream) closedLocally() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *EventStream) push(it item) {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, it)
	s.mu.Unlock()
	s.poke()
}

// finish records the remote end of the stream. A non-nil err is delivered
// once by Next before the stream reports closed.
func (s *EventStream) finish(err error) {
	s.mu.Lock()
	if err != nil && s.state != Closed {
		s.queue = append(s.queue, item{err: err})
	}
	s.readerDone = true
	if s.state == Open {
		s.state = Draining
	}
	s.mu.Unlock()

	s.logger.Debug("event stream ended by remote",
		zap.String("stream_state", Draining.String()),
		zap.Error(err),
	)
	s.poke()
}

func (s *EventStream) poke() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Next returns the next event in arrival order.
//
// It returns (nil, nil) once the stream is Closed, and also when ctx is done
// before an event arrives; in that case nothing is consumed and a later call
// still sees the event. A framing violation or a non-OK trailer is returned
// as an error exactly once, after which the stream is Closed.
func (s *EventStream) Next(ctx context.Context) (*NodeEvent, error) {
	for {
		s.mu.Lock()
		if s.state == Closed {
			s.mu.Unlock()
			return nil, nil
		}
		if len(s.queue) > 0 {
			it := s.queue[0]
			s.queue[0] = item{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return it.event, it.err
		}
		if s.readerDone {
			s.state = Closed
			s.mu.Unlock()
			s.logger.Debug("event stream drained", zap.String("stream_state", Closed.String()))
			_ = s.Close()
			return nil, nil
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-s.done:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}

// State reports the current lifecycle state.
func (s *EventStream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when Close is called.
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}

// Close moves the stream to Closed and releases the body. Queued events are
// discarded. Only the first call does anything. Next calls it once a stream
// ended by the remote has been drained.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = Closed
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		s.closeErr = s.body.Close()
		s.logger.Debug("event stream closed", zap.String("stream_state", Closed.String()))
	})
	return s.closeErr
}
