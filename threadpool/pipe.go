package threadpool

import (
	"bytes"
	"io"
	"sync"

	"github.com/joeycumines/go-reactor/future"
)

// pipe is a bounded byte buffer between a job and a task. Each side has a
// single waker slot: there is one reader and one writer.
type pipe struct {
	mu           sync.Mutex
	buf          bytes.Buffer
	capacity     int
	readWaker    future.Waker
	writeWaker   future.Waker
	readerClosed bool
	writerClosed bool
}

func newPipe(capacity int) *pipe {
	return &pipe{capacity: capacity}
}

// pollRead reads into b, which must not be empty, failing with io.EOF once
// the writer is closed and the buffer drained.
func (p *pipe) pollRead(cx *future.Context, b []byte) (int, error, bool) {
	p.mu.Lock()
	if p.buf.Len() == 0 {
		if p.writerClosed {
			p.mu.Unlock()
			return 0, io.EOF, true
		}
		p.readWaker = cx.Waker()
		p.mu.Unlock()
		return 0, nil, false
	}
	n, _ := p.buf.Read(b)
	w := p.writeWaker
	p.writeWaker = nil
	p.mu.Unlock()
	if w != nil {
		w.Wake()
	}
	return n, nil, true
}

// pollWrite writes as much of b as fits, failing with io.ErrClosedPipe once
// the reader is closed.
func (p *pipe) pollWrite(cx *future.Context, b []byte) (int, error, bool) {
	p.mu.Lock()
	if p.readerClosed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe, true
	}
	space := p.capacity - p.buf.Len()
	if space <= 0 {
		p.writeWaker = cx.Waker()
		p.mu.Unlock()
		return 0, nil, false
	}
	n := min(space, len(b))
	p.buf.Write(b[:n])
	w := p.readWaker
	p.readWaker = nil
	p.mu.Unlock()
	if w != nil {
		w.Wake()
	}
	return n, nil, true
}

func (p *pipe) closeReader() { p.close(&p.readerClosed) }

func (p *pipe) closeWriter() { p.close(&p.writerClosed) }

func (p *pipe) close(flag *bool) {
	p.mu.Lock()
	*flag = true
	r, w := p.readWaker, p.writeWaker
	p.readWaker, p.writeWaker = nil, nil
	p.mu.Unlock()
	if r != nil {
		r.Wake()
	}
	if w != nil {
		w.Wake()
	}
}

// readBlocking is pollRead for the job side.
func (p *pipe) readBlocking(b []byte) (int, error) {
	return future.Block[future.Result[int]](future.Func[future.Result[int]](func(cx *future.Context) (future.Result[int], bool) {
		n, err, ok := p.pollRead(cx, b)
		return future.Result[int]{Value: n, Err: err}, ok
	})).Get()
}

// writeAllBlocking writes all of b, for the job side. It returns false if
// the reader was closed first.
func (p *pipe) writeAllBlocking(b []byte) bool {
	for len(b) != 0 {
		n, err := future.Block[future.Result[int]](future.Func[future.Result[int]](func(cx *future.Context) (future.Result[int], bool) {
			n, err, ok := p.pollWrite(cx, b)
			return future.Result[int]{Value: n, Err: err}, ok
		})).Get()
		if err != nil {
			return false
		}
		b = b[n:]
	}
	return true
}

// fill copies from r into the pipe until EOF, an error, or the reader
// closing. The writer is closed on return.
func (p *pipe) fill(r io.Reader) error {
	defer p.closeWriter()
	buf := make([]byte, min(p.capacity, unblockChunkSize))
	for {
		n, err := r.Read(buf)
		if n > 0 && !p.writeAllBlocking(buf[:n]) {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// drain copies from the pipe into w until the writer closes, or w fails.
// The reader is closed on return.
func (p *pipe) drain(w io.Writer) error {
	defer p.closeReader()
	buf := make([]byte, min(p.capacity, unblockChunkSize))
	for {
		n, err := p.readBlocking(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if err != nil {
			return nil
		}
	}
}
