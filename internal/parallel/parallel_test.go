package parallel

import (
	"sync/atomic"
	"testing"
)

func TestRange(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

	var covered int64
	var calls int64
	n := 1000

	Range(n, func(s, e int) {
		atomic.AddInt64(&covered, int64(e-s))
		atomic.AddInt64(&calls, 1)
	}, cfg)

	if covered != int64(n) {
		t.Errorf("Expected %d bytes covered, got %d", n, covered)
	}
	if calls < 2 {
		t.Errorf("Expected work to be split, got %d calls", calls)
	}
}

func TestRange_Sequential(t *testing.T) {
	var calls int
	Range(100, func(s, e int) {
		calls++
		if s != 0 || e != 100 {
			t.Errorf("Expected [0, 100), got [%d, %d)", s, e)
		}
	}, Sequential())

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRange_Empty(t *testing.T) {
	Range(0, func(_, _ int) {
		t.Error("f must not be called for empty range")
	}, DefaultConfig())
}

func TestRange_SmallChunk(t *testing.T) {
	// Small work falls back to a single call.
	cfg := DefaultConfig()

	var calls int64
	Range(10, func(_, _ int) {
		atomic.AddInt64(&calls, 1)
	}, cfg)

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestCopy(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 8}

	src := make([]byte, 257)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 300)

	n := Copy(dst, src, cfg)
	if n != len(src) {
		t.Fatalf("Expected %d bytes copied, got %d", len(src), n)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("Mismatch at %d: got %d, want %d", i, dst[i], src[i])
		}
	}
	for i := len(src); i < len(dst); i++ {
		if dst[i] != 0 {
			t.Fatalf("Byte %d beyond source was written", i)
		}
	}
}

func TestFill(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}

	buf := make([]byte, 129)
	Fill(buf, 0xAB, cfg)
	for i, b := range buf {
		if b != 0xAB {
			t.Fatalf("Byte %d = %#x, want 0xab", i, b)
		}
	}

	Fill(buf, 0, cfg)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("Byte %d = %#x, want 0", i, b)
		}
	}
}
