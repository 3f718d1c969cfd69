package crypto

import (
	"sync"
	"testing"
)

func TestBufferPool_GetPutZeroesOnReturn(t *testing.T) {
	p := newBufferPool()

	buf := p.get(ivSize)
	if len(buf) != ivSize {
		t.Fatalf("expected %d-byte buffer, got %d", ivSize, len(buf))
	}
	for i := range buf {
		buf[i] = 0xff
	}
	p.put(buf)

	again := p.get(ivSize)
	for i, b := range again {
		if b != 0 {
			t.Errorf("buffer byte %d not zeroed on reuse: %x", i, b)
		}
	}
}

func TestBufferPool_Get32(t *testing.T) {
	p := newBufferPool()
	buf := p.get(saltSize)
	if len(buf) != saltSize {
		t.Fatalf("expected %d-byte buffer, got %d", saltSize, len(buf))
	}
}

func TestBufferPool_UnknownSizeFallsBackToFreshAllocation(t *testing.T) {
	p := newBufferPool()
	buf := p.get(7)
	if len(buf) != 7 {
		t.Fatalf("expected 7-byte buffer, got %d", len(buf))
	}
	// Must not be pooled: putting and getting again shouldn't panic or corrupt state.
	p.put(buf)
}

func TestBufferPool_MetricsTrackHitsAndMisses(t *testing.T) {
	p := newBufferPool()

	buf := p.get(ivSize) // miss: pool starts empty
	p.put(buf)
	_ = p.get(ivSize) // hit: reuses the buffer just returned

	m := p.Metrics()
	if m.Misses12 == 0 {
		t.Error("expected at least one miss on first allocation")
	}
	if m.Hits12 == 0 {
		t.Error("expected at least one hit after returning a buffer")
	}
	if rate := m.HitRate12(); rate <= 0 || rate > 1 {
		t.Errorf("HitRate12() = %v, want value in (0, 1]", rate)
	}
}

func TestBufferPool_ConcurrentAccess(t *testing.T) {
	p := newBufferPool()

	var wg sync.WaitGroup
	const workers = 20
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				iv := p.get(ivSize)
				salt := p.get(saltSize)
				p.put(iv)
				p.put(salt)
			}
		}()
	}
	wg.Wait()
}

func TestBufferPoolMetrics_HitRateZeroWhenUnused(t *testing.T) {
	var m BufferPoolMetrics
	if rate := m.HitRate12(); rate != 0 {
		t.Errorf("HitRate12() on empty metrics = %v, want 0", rate)
	}
	if rate := m.HitRate32(); rate != 0 {
		t.Errorf("HitRate32() on empty metrics = %v, want 0", rate)
	}
}
