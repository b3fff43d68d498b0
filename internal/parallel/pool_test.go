package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_CreateZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	if want := runtime.GOMAXPROCS(0); pool.Workers() != want {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), want)
	}
}

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	const numTasks = 100

	work := make([]func(), numTasks)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if counter.Load() != numTasks {
		t.Errorf("counter = %d, want %d", counter.Load(), numTasks)
	}
}

func TestWorkerPool_ExecuteAll_AllIndices(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	var mu sync.Mutex
	seen := make(map[int]bool)

	work := make([]func(), 10)
	for i := range work {
		work[i] = func() {
			mu.Lock()
			seen[i] = true
			mu.Unlock()
		}
	}
	pool.ExecuteAll(work)

	for i := range 10 {
		if !seen[i] {
			t.Errorf("missing index %d", i)
		}
	}
}

func TestWorkerPool_ExecuteAll_Empty(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	pool.ExecuteAll(nil)
	pool.ExecuteAll([]func(){})
}

func TestWorkerPool_ExecuteAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close() // second close is a no-op

	if pool.IsRunning() {
		t.Fatal("pool should not be running after Close")
	}

	var counter atomic.Int64
	pool.ExecuteAll([]func(){
		func() { counter.Add(1) },
		func() { counter.Add(1) },
	})
	if counter.Load() != 2 {
		t.Errorf("work after Close ran %d times, want 2", counter.Load())
	}
}

func TestBands(t *testing.T) {
	tests := []struct {
		name   string
		y0, y1 int
		n      int
		want   int
	}{
		{"empty", 0, 0, 4, 0},
		{"single row", 0, 1, 4, 1},
		{"fewer rows than min band", 0, 7, 4, 1},
		{"exact split", 0, 64, 4, 4},
		{"remainder", 3, 70, 4, 4},
		{"limited by rows", 0, 20, 16, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bands := Bands(tt.y0, tt.y1, tt.n)
			if len(bands) != tt.want {
				t.Fatalf("len(Bands) = %d, want %d", len(bands), tt.want)
			}
			if len(bands) == 0 {
				return
			}
			if bands[0].Y0 != tt.y0 || bands[len(bands)-1].Y1 != tt.y1 {
				t.Errorf("bands cover [%d,%d), want [%d,%d)",
					bands[0].Y0, bands[len(bands)-1].Y1, tt.y0, tt.y1)
			}
			for i := 1; i < len(bands); i++ {
				if bands[i].Y0 != bands[i-1].Y1 {
					t.Errorf("gap between band %d and %d", i-1, i)
				}
			}
		})
	}
}

func TestForRows_VisitsEveryRowOnce(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	const rows = 301
	var visits [rows]atomic.Int32
	pool.ForRows(0, rows, func(b Band) {
		for y := b.Y0; y < b.Y1; y++ {
			visits[y].Add(1)
		}
	})
	for y := range rows {
		if n := visits[y].Load(); n != 1 {
			t.Fatalf("row %d visited %d times", y, n)
		}
	}
}

func BenchmarkForRows(b *testing.B) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	grid := make([]float32, 512*512)
	b.ResetTimer()
	for range b.N {
		pool.ForRows(0, 512, func(band Band) {
			for y := band.Y0; y < band.Y1; y++ {
				row := grid[y*512 : (y+1)*512]
				for x := range row {
					row[x] += 1
				}
			}
		})
	}
}
