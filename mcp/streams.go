package mcp

import (
	"context"
	"errors"
	"sync"
)

const (
	STREAM_TYPE_REGULAR    = "regular"
	STREAM_TYPE_STANDALONE = "standalone"
)

var (
	ErrStreamFinished = errors.New("stream is finished")
	ErrStreamFull     = errors.New("stream buffer is full and nobody is listening")
	ErrStreamBusy     = errors.New("stream already has a listener")
)

// Message is one serialized JSON-RPC message waiting to be written as an SSE event.
type Message struct {
	EventId string
	Data    []byte
}

// Stream carries messages from the goroutine producing them to at most one
// SSE listener. The messages channel is never closed; Finish marks the end
// so listeners drain what is buffered and leave.
type Stream struct {
	Id        string
	Type      string
	SessionId string

	messages chan *Message
	finished chan struct{}
	once     sync.Once

	mu       sync.Mutex
	attached bool
	gone     chan struct{} // closed when the current listener detaches
}

func newStream(id string, streamType string, sessionId string, bufferSize uint) *Stream {
	return &Stream{
		Id:        id,
		Type:      streamType,
		SessionId: sessionId,
		messages:  make(chan *Message, bufferSize),
		finished:  make(chan struct{}),
	}
}

func (s *Stream) Messages() <-chan *Message {
	return s.messages
}

func (s *Stream) Finished() <-chan struct{} {
	return s.finished
}

// Finish tells listeners that no more messages follow.
func (s *Stream) Finish() {
	s.once.Do(func() {
		close(s.finished)
	})
}

// Attach claims the stream for one listener.
func (s *Stream) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return ErrStreamBusy
	}
	s.attached = true
	s.gone = make(chan struct{})
	return nil
}

func (s *Stream) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		s.attached = false
		close(s.gone)
	}
}

func (s *Stream) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

func (s *Stream) listener() (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone, s.attached
}

// drain takes every buffered message without waiting.
func (s *Stream) drain() []*Message {
	var drained []*Message
	for {
		select {
		case message := <-s.messages:
			drained = append(drained, message)
		default:
			return drained
		}
	}
}

// Publish queues a message. It waits for buffer space only while a listener
// is attached; otherwise a full buffer drops the message, which a resuming
// client recovers from the event log.
func (s *Stream) Publish(ctx context.Context, message *Message) error {
	select {
	case <-s.finished:
		return ErrStreamFinished
	default:
	}

	select {
	case s.messages <- message:
		return nil
	default:
	}

	gone, attached := s.listener()
	if !attached {
		return ErrStreamFull
	}

	select {
	case s.messages <- message:
		return nil
	case <-gone:
		return ErrStreamFull
	case <-ctx.Done():
		return ctx.Err()
	case <-s.finished:
		return ErrStreamFinished
	}
}
