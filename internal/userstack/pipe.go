package userstack

import "bytes"

// pipe is one direction of a connection. Bytes written to the pipe are held
// until read, up to limit bytes. When the pipe is attached to a pool, the
// buffered bytes are also accounted against the pool.
type pipe struct {
	buf    bytes.Buffer
	limit  int
	pool   *pool
	eof    bool // the writer is done
	broken bool // the reader is gone
}

func newPipe(limit int, pool *pool) *pipe {
	return &pipe{limit: limit, pool: pool}
}

func (p *pipe) len() int { return p.buf.Len() }

func (p *pipe) full() bool { return p.buf.Len() >= p.limit }

func (p *pipe) space() int {
	n := p.limit - p.buf.Len()
	if p.pool != nil {
		n = min(n, p.pool.free())
	}
	return max(n, 0)
}

// starved reports whether the pipe has room for more bytes but the pool it
// draws from is exhausted.
func (p *pipe) starved() bool {
	return p.pool != nil && !p.full() && p.pool.free() == 0
}

func (p *pipe) write(b []byte) int {
	n := min(len(b), p.space())
	p.buf.Write(b[:n])
	if p.pool != nil {
		p.pool.used += n
	}
	return n
}

func (p *pipe) read(b []byte, peek bool) int {
	if peek {
		return copy(b, p.buf.Bytes())
	}
	n, _ := p.buf.Read(b)
	if p.pool != nil {
		p.pool.used -= n
	}
	return n
}

func (p *pipe) closeWrite() { p.eof = true }

// closeRead discards the buffered bytes; later writes fail.
func (p *pipe) closeRead() {
	p.broken = true
	if p.pool != nil {
		p.pool.used -= p.buf.Len()
	}
	p.buf.Reset()
}
