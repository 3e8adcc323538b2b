package engine

import "github.com/ketches/f2b-monitor/internal/models"

// eventRing 固定容量的事件环形缓冲，满时覆盖最旧事件
type eventRing struct {
	buf   []models.Event
	start int
	count int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]models.Event, capacity)}
}

// Append 追加一条事件
func (r *eventRing) Append(ev models.Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// Len 当前事件数
func (r *eventRing) Len() int {
	return r.count
}

// Tail 按时间顺序返回最后 n 条事件
func (r *eventRing) Tail(n int) []models.Event {
	if n > r.count {
		n = r.count
	}
	out := make([]models.Event, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
