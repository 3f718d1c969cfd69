package crypto

import (
	"sync"
	"sync/atomic"
)

// bufferPool provides thread-safe pooling of the small fixed-size byte
// buffers Service allocates on every Encrypt/Decrypt call: HKDF salts and
// GCM nonces. Buffers are zeroized before returning to the pool to prevent
// leaking previous key material. Unlike a bulk object-storage gateway,
// PII event fields are short strings, so this pool only carries the two
// size classes Service actually needs rather than a multi-tier ladder
// reaching up to 64KB chunk buffers.
type bufferPool struct {
	pool12 *sync.Pool // ivSize-byte buffers (GCM nonces)
	pool32 *sync.Pool // saltSize-byte buffers (HKDF salts)

	hits12, misses12 int64
	hits32, misses32 int64
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool12: &sync.Pool{},
		pool32: &sync.Pool{},
	}
}

// get returns a zeroed buffer of exactly n bytes. n must be ivSize or
// saltSize; any other length falls back to a fresh, unpooled allocation.
func (p *bufferPool) get(n int) []byte {
	switch n {
	case ivSize:
		return p.get12()
	case saltSize:
		return p.get32()
	default:
		return make([]byte, n)
	}
}

// put zeroes buf and returns it to the matching size-class pool. Buffers of
// sizes the pool doesn't track are simply dropped for the GC to collect.
func (p *bufferPool) put(buf []byte) {
	switch len(buf) {
	case ivSize:
		p.put12(buf)
	case saltSize:
		p.put32(buf)
	}
}

func (p *bufferPool) get12() []byte {
	buf, ok := p.pool12.Get().([]byte)
	if ok && cap(buf) == ivSize {
		atomic.AddInt64(&p.hits12, 1)
	} else {
		atomic.AddInt64(&p.misses12, 1)
		buf = make([]byte, ivSize)
	}
	zero(buf)
	return buf
}

func (p *bufferPool) put12(buf []byte) {
	if cap(buf) != ivSize {
		return
	}
	zero(buf)
	p.pool12.Put(buf)
}

func (p *bufferPool) get32() []byte {
	buf, ok := p.pool32.Get().([]byte)
	if ok && cap(buf) == saltSize {
		atomic.AddInt64(&p.hits32, 1)
	} else {
		atomic.AddInt64(&p.misses32, 1)
		buf = make([]byte, saltSize)
	}
	zero(buf)
	return buf
}

func (p *bufferPool) put32(buf []byte) {
	if cap(buf) != saltSize {
		return
	}
	zero(buf)
	p.pool32.Put(buf)
}

// BufferPoolMetrics reports pool hit/miss counters per size class.
type BufferPoolMetrics struct {
	Hits12, Misses12 int64
	Hits32, Misses32 int64
}

func (p *bufferPool) Metrics() BufferPoolMetrics {
	return BufferPoolMetrics{
		Hits12:   atomic.LoadInt64(&p.hits12),
		Misses12: atomic.LoadInt64(&p.misses12),
		Hits32:   atomic.LoadInt64(&p.hits32),
		Misses32: atomic.LoadInt64(&p.misses32),
	}
}

// HitRate12 returns the fraction of nonce buffer requests satisfied from
// the pool rather than freshly allocated.
func (m BufferPoolMetrics) HitRate12() float64 {
	total := m.Hits12 + m.Misses12
	if total == 0 {
		return 0
	}
	return float64(m.Hits12) / float64(total)
}

// HitRate32 returns the fraction of salt buffer requests satisfied from
// the pool rather than freshly allocated.
func (m BufferPoolMetrics) HitRate32() float64 {
	total := m.Hits32 + m.Misses32
	if total == 0 {
		return 0
	}
	return float64(m.Hits32) / float64(total)
}
