package scheduler

// ringLog keeps the most recent lines of a task's output, discarding the
// oldest once the limit is reached.
type ringLog struct {
	buf   []string
	start int
	size  int
}

func newRingLog(limit int) *ringLog {
	if limit <= 0 {
		limit = DefaultLogLines
	}
	return &ringLog{buf: make([]string, limit)}
}

func (r *ringLog) Append(line string) {
	limit := len(r.buf)
	if r.size < limit {
		r.buf[(r.start+r.size)%limit] = line
		r.size++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % limit
}

// Lines returns a copy of the retained lines, oldest first.
func (r *ringLog) Lines() []string {
	out := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *ringLog) Len() int { return r.size }

func (r *ringLog) Reset() {
	r.start = 0
	r.size = 0
}
