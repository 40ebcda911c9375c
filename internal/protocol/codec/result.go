package codec

import "fmt"

// Status is the outcome of one driver run.
type Status uint8

const (
	// NeedMoreInput means every buffered byte was used and the message is not
	// finished. It is not an error: feed the next chunk.
	NeedMoreInput Status = iota
	// Complete means one top-level message was decoded.
	Complete
	// Failed means the session was aborted and reset.
	Failed
)

func (s Status) String() string {
	switch s {
	case NeedMoreInput:
		return "need-more-input"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Result is what Feed and Drain return. Message is set only when Status is
// Complete; Err only when Status is Failed. Consumed is the encoded size of
// the completed message.
type Result struct {
	Status   Status
	Message  any
	Err      error
	Consumed int
}

// Done reports whether a message was delivered.
func (r Result) Done() bool {
	return r.Status == Complete
}
