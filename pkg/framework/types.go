package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// Message is anything posted to a Loop: agent commands, events and
// replies.
type Message interface {
	// NewMessage creates an empty message.
	NewMessage() Message
}

// Controller is run once per loop iteration.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc defines the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(ctx ControlContext) error {
	return f(ctx)
}

// ControlContext is the view of one loop iteration.
type ControlContext interface {
	// Context retrieves context.Context.
	Context() context.Context
	// Time is when the iteration started. Deadlines are compared with it.
	Time() time.Time
	// PriorityLevel gets the current priority level.
	PriorityLevel() int
	// Messages retrieves all messages collected when
	// this iteration starts.
	Messages() MessageStore
	// Due reports key has no deadline pending at Time.
	Due(key string) bool

	LoopControl
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 16

// Priority levels, run in ascending order in every iteration.
const (
	// PrLvCommand decodes incoming agent commands.
	PrLvCommand int = 4
	// PrLvBringUp runs bring-up state machines.
	PrLvBringUp int = 8
	// PrLvReport prints or forwards events.
	PrLvReport int = 12
	// PrLvPostProc publishes what changed during the iteration.
	PrLvPostProc int = PriorityLevels - 2
	// PrLvIdle answers messages nobody took.
	PrLvIdle int = PriorityLevels - 1
)

// LoopControl exposes access to the controlling loop. It may be used from
// any goroutine.
type LoopControl interface {
	// PostMessage enqueues the message for the next iteration.
	PostMessage(Message)
	// TriggerNext schedules the next iteration to be executed
	// immediately after the current iteration.
	TriggerNext()
	// ScheduleAt wakes the loop at t on behalf of key, e.g. a deferred
	// bring-up pass. An earlier deadline of the same key is replaced.
	ScheduleAt(key string, t time.Time)
	// Unschedule drops the deadline of key.
	Unschedule(key string)
}

// MessageStore holds the messages of one iteration.
type MessageStore interface {
	// ProcessMessages visits the messages in order. Taken messages are
	// hidden from controllers running later.
	ProcessMessages(MessageProcessor)
}

// MessageProcessor is used by MessageStore to process messages.
type MessageProcessor interface {
	ProcessMessage(MessageProcessingContext)
}

// ProcessMessageFunc is the func form of MessageProcessor.
type ProcessMessageFunc func(MessageProcessingContext)

// ProcessMessage implements MessageProcessor.
func (f ProcessMessageFunc) ProcessMessage(mc MessageProcessingContext) {
	f(mc)
}

// MessageProcessingContext provides context for current message.
type MessageProcessingContext interface {
	// CurrentMessage gets the current message being processed.
	CurrentMessage() Message
	// MessageTaken indicates the message has been processed and
	// should be removed from store.
	MessageTaken()
}
