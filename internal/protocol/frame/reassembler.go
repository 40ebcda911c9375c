package frame

// Reassembler rebuilds frames from arbitrarily split stream reads.
type Reassembler struct {
	limits Limits
	buf    []byte
	pos    int
}

func NewReassembler(limits Limits) *Reassembler {
	return &Reassembler{limits: limits}
}

// Next appends p and returns the next complete payload, or nil when more
// bytes are needed. A partial prefix is not an error. The prefix is checked
// against the limits as soon as it is complete, before the payload is
// waited for. The returned payload aliases internal storage and is valid
// until the following call; call Next(nil) to take further buffered frames.
func (r *Reassembler) Next(p []byte) ([]byte, error) {
	if len(p) > 0 {
		r.buf = append(r.buf, p...)
	}
	avail := r.buf[r.pos:]
	if len(avail) < HeaderLen {
		r.compact()
		return nil, nil
	}
	n, err := DecodeHeader(avail)
	if err == nil {
		err = r.limits.check(n)
	}
	if err != nil {
		r.Reset()
		return nil, err
	}
	end := HeaderLen + int(n)
	if len(avail) < end {
		r.compact()
		return nil, nil
	}
	r.pos += end
	return avail[HeaderLen:end:end], nil
}

// Buffered returns how many bytes are held for frames not yet returned.
func (r *Reassembler) Buffered() int {
	return len(r.buf) - r.pos
}

// Reset drops every buffered byte.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.pos = 0
}

func (r *Reassembler) compact() {
	if r.pos == 0 {
		return
	}
	n := copy(r.buf, r.buf[r.pos:])
	r.buf = r.buf[:n]
	r.pos = 0
}
