package mqtt

import "github.com/rs/zerolog/log"

// outMsg is a serialized MQTT message waiting to be sent.
type outMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO holding messages while the broker is
// unreachable. When full, the oldest message is overwritten.
// Not safe for concurrent use; caller must synchronize.
type outbox struct {
	buf     []outMsg
	head    int // oldest message
	count   int
	dropped int // overwritten since last drain
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{buf: make([]outMsg, capacity)}
}

func (o *outbox) push(msg outMsg) {
	if o.count == len(o.buf) {
		if o.dropped == 0 {
			log.Warn().Int("capacity", len(o.buf)).Msg("mqtt outbox full, dropping oldest")
		}
		o.dropped++
		o.buf[o.head] = msg
		o.head = (o.head + 1) % len(o.buf)
		return
	}
	o.buf[(o.head+o.count)%len(o.buf)] = msg
	o.count++
}

// drain returns buffered messages oldest first and empties the outbox.
func (o *outbox) drain() []outMsg {
	if o.count == 0 {
		return nil
	}
	out := make([]outMsg, o.count)
	for i := range out {
		out[i] = o.buf[(o.head+i)%len(o.buf)]
		o.buf[(o.head+i)%len(o.buf)] = outMsg{}
	}
	if o.dropped > 0 {
		log.Warn().Int("dropped", o.dropped).Msg("mqtt outbox replaying after overflow")
	}
	o.head, o.count, o.dropped = 0, 0, 0
	return out
}

func (o *outbox) len() int {
	return o.count
}
