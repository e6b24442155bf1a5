package mqtt

import "log"

// outboxMsg stores a serialized MQTT message held while the broker is
// unreachable.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO for messages queued while disconnected.
// When full the oldest message is overwritten: fresh state beats history.
// Not safe for concurrent use — caller must synchronize.
type outbox struct {
	buf      []outboxMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages lost since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		buf:      make([]outboxMsg, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg outboxMsg) {
	if o.count == o.capacity {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", o.capacity)
		}
		o.dropped++
		o.buf[o.head] = msg
		o.head = (o.head + 1) % o.capacity
		return
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % o.capacity
	o.count++
}

// drain returns the queued messages oldest-first and resets the outbox.
func (o *outbox) drain() []outboxMsg {
	if o.count == 0 {
		return nil
	}

	result := make([]outboxMsg, o.count)
	start := (o.head - o.count + o.capacity) % o.capacity
	for i := 0; i < o.count; i++ {
		result[i] = o.buf[(start+i)%o.capacity]
	}

	o.count = 0
	o.head = 0
	o.dropped = 0
	return result
}

// pushAll requeues messages oldest-first, typically the unreplayed tail of
// a drain that hit a broker error.
func (o *outbox) pushAll(msgs []outboxMsg) {
	for _, m := range msgs {
		o.push(m)
	}
}

func (o *outbox) len() int {
	return o.count
}
