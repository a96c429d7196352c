package storage

import (
	"io"
	"sync"
)

// ProgressWriterAt counts bytes passing through to an io.WriterAt and hands
// the running total to a ProgressFunc after every write. Throttling is up to
// the callback.
type ProgressWriterAt struct {
	w     io.WriterAt
	total int64
	cb    ProgressFunc

	mu   sync.Mutex
	done int64
}

// NewProgressWriterAt returns w unchanged when cb is nil.
func NewProgressWriterAt(w io.WriterAt, total int64, cb ProgressFunc) io.WriterAt {
	if cb == nil {
		return w
	}
	return &ProgressWriterAt{
		w:     w,
		total: total,
		cb:    cb,
	}
}

func (p *ProgressWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	if n == 0 {
		return n, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += int64(n)
	p.cb(p.done, p.total)

	return n, err
}

func (p *ProgressWriterAt) Done() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
