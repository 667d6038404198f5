package session

// historyRing keeps the most recent records in insertion order.
type historyRing struct {
	buf   []ToolCallRecord
	start int
	size  int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &historyRing{buf: make([]ToolCallRecord, capacity)}
}

func (r *historyRing) push(rec ToolCallRecord) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = rec
		r.size++
		return
	}
	r.buf[r.start] = rec
	r.start = (r.start + 1) % len(r.buf)
}

// list returns records oldest first.
func (r *historyRing) list() []ToolCallRecord {
	out := make([]ToolCallRecord, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
