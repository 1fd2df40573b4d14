// Package worker provides a small generic actor: a goroutine draining a
// bounded inbox until it receives Quit.
package worker

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the inbox size used by Spawn and SpawnConsumer.
const DefaultCapacity = 100

var (
	// ErrReceiverGone is returned when sending to an actor whose goroutine
	// has already exited.
	ErrReceiverGone = errors.New("worker: receiver gone")
	// ErrQueueFull is returned by TrySend when the inbox has no free slot.
	ErrQueueFull = errors.New("worker: queue full")
)

// ControlMessage is the set of lifecycle commands every actor understands.
type ControlMessage int

const (
	// Quit asks the actor body to return.
	Quit ControlMessage = iota
)

func (c ControlMessage) String() string {
	switch c {
	case Quit:
		return "quit"
	default:
		return fmt.Sprintf("control(%d)", int(c))
	}
}

// Message is implemented by every actor inbox type. FromControl wraps a
// control command into the message type so Stop can deliver it.
type Message[M any] interface {
	FromControl(ControlMessage) M
}

// PanicError reports that an actor body panicked.
type PanicError struct {
	Value string
}

func (e *PanicError) Error() string {
	return "worker: thread panicked: " + e.Value
}

func panicValue(r any) string {
	switch v := r.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "non-string panic"
	}
}

// Sender is the sending half of an actor inbox. It is a value type and may
// be copied freely between goroutines.
type Sender[M any] struct {
	ch   chan<- M
	done <-chan struct{}
}

// Send enqueues msg, blocking while the inbox is full. It fails with
// ErrReceiverGone once the actor has exited.
func (s Sender[M]) Send(msg M) error {
	select {
	case <-s.done:
		return ErrReceiverGone
	default:
	}

	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrReceiverGone
	}
}

// TrySend enqueues msg without blocking.
func (s Sender[M]) TrySend(msg M) error {
	select {
	case <-s.done:
		return ErrReceiverGone
	default:
	}

	select {
	case s.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Worker owns an actor goroutine and its inbox.
type Worker[M Message[M]] struct {
	sender Sender[M]
	done   chan struct{}
	err    error
}

// Spawn starts body on its own goroutine with an inbox of DefaultCapacity.
// The body receives out, the sender of the downstream actor, together with
// its own inbox, and must return after observing Quit.
func Spawn[M Message[M], O any](out Sender[O], body func(out Sender[O], inbox <-chan M)) *Worker[M] {
	return SpawnWithCapacity(DefaultCapacity, out, body)
}

// SpawnWithCapacity is Spawn with an explicit inbox size.
func SpawnWithCapacity[M Message[M], O any](capacity int, out Sender[O], body func(out Sender[O], inbox <-chan M)) *Worker[M] {
	return start(capacity, func(inbox <-chan M) { body(out, inbox) })
}

// SpawnConsumer starts a terminal actor that has no downstream.
func SpawnConsumer[M Message[M]](body func(inbox <-chan M)) *Worker[M] {
	return SpawnConsumerWithCapacity(DefaultCapacity, body)
}

// SpawnConsumerWithCapacity is SpawnConsumer with an explicit inbox size.
func SpawnConsumerWithCapacity[M Message[M]](capacity int, body func(inbox <-chan M)) *Worker[M] {
	return start(capacity, body)
}

func start[M Message[M]](capacity int, body func(inbox <-chan M)) *Worker[M] {
	if capacity < 1 {
		capacity = 1
	}
	ch := make(chan M, capacity)
	w := &Worker[M]{done: make(chan struct{})}
	w.sender = Sender[M]{ch: ch, done: w.done}

	go func() {
		defer close(w.done)
		defer func() {
			if r := recover(); r != nil {
				w.err = &PanicError{Value: panicValue(r)}
			}
		}()
		body(ch)
	}()

	return w
}

// Sender returns a copy of the actor's sending handle.
func (w *Worker[M]) Sender() Sender[M] {
	return w.sender
}

// Done is closed once the actor goroutine has returned.
func (w *Worker[M]) Done() <-chan struct{} {
	return w.done
}

// Stop delivers Quit and waits for the goroutine to return. The join
// happens even when Quit cannot be delivered. A panic in the body takes
// precedence over a delivery failure.
func (w *Worker[M]) Stop() error {
	var zero M
	sendErr := w.sender.Send(zero.FromControl(Quit))

	<-w.done

	if w.err != nil {
		return w.err
	}
	return sendErr
}
