package actor

import "fmt"

// ErrActorUnavailable indicates that an operation could not find any actor
// to act on, e.g. a Router whose service key has no registered actors.
var ErrActorUnavailable = fmt.Errorf("no actor available")

// ErrInvalidRef indicates that an ActorRef value passed to an API was nil,
// zero-valued, or otherwise not a usable reference.
var ErrInvalidRef = fmt.Errorf("invalid actor reference")

// ErrSendFailed indicates that a message could not be delivered to an
// actor's mailbox (e.g. the mailbox was full or the actor terminated before
// the send completed).
var ErrSendFailed = fmt.Errorf("failed to send message to actor")

// ErrChannelClosed indicates that an operation observed a closed channel
// where an open one was required.
var ErrChannelClosed = fmt.Errorf("channel closed")

// ErrNotSupported indicates that an operation is not supported by the
// current actor, mailbox, or routing strategy implementation.
var ErrNotSupported = fmt.Errorf("operation not supported")
