//go:build soak

package coordinator_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/capture"
	"github.com/RenatoCabral2022/segment-recorder/internal/config"
	"github.com/RenatoCabral2022/segment-recorder/internal/coordinator"
	"github.com/RenatoCabral2022/segment-recorder/internal/recorder"
	"github.com/RenatoCabral2022/segment-recorder/internal/registry"
	"github.com/RenatoCabral2022/segment-recorder/internal/segment"
	"github.com/RenatoCabral2022/segment-recorder/internal/testutil"
)

const (
	soakDuration  = 2 * time.Minute
	soakCameras   = 5
	queryInterval = 1500 * time.Millisecond
)

func TestSoakStability(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping soak test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	entries := make([]config.CameraConfig, soakCameras)
	for i := range entries {
		entries[i] = config.CameraConfig{
			ID:      fmt.Sprintf("soak-cam-%d", i),
			RTSPURL: fmt.Sprintf("rtsp://10.0.0.%d/stream", i+10),
		}
	}
	reg, err := registry.New("", entries, logger)
	if err != nil {
		t.Fatal(err)
	}

	layout := segment.Layout{Root: t.TempDir(), Ext: "mp4"}
	index := segment.NewIndex(layout)
	engine := &capture.MockEngine{Default: capture.MockRun{Block: true, Size: 8192}}
	processor := &capture.MockProcessor{SegmentLength: queryInterval}

	// Record baseline
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	baselineGoroutines := runtime.NumGoroutine()
	t.Logf("baseline goroutines: %d", baselineGoroutines)

	coord := coordinator.New(coordinator.Config{
		Layout: layout,
		Recorder: recorder.Config{
			SegmentDuration: 10 * time.Minute,
			MinSegmentBytes: 1024,
			StopTimeout:     time.Second,
			SplitTimeout:    time.Second,
		},
		SplitWindow: 5 * time.Second,
		SplitWait:   5 * time.Second,
	}, reg, engine, processor, index, nil, logger)

	if n := coord.AutoStart(); n != soakCameras {
		t.Fatalf("expected %d cameras started, got %d", soakCameras, n)
	}

	// Query every camera near now, forcing a split each time
	var wg sync.WaitGroup
	stopCh := make(chan struct{})
	var (
		mu      sync.Mutex
		queries int
		clips   int
		errs    int
	)

	for _, e := range entries {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ticker := time.NewTicker(queryInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopCh:
					return
				case <-ticker.C:
					end := time.Now()
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					res, err := coord.Query(ctx, id, end.Add(-3*time.Second), end, coordinator.QueryOptions{Merge: true})
					cancel()
					mu.Lock()
					queries++
					if err != nil {
						errs++
					} else {
						clips += len(res.Files)
					}
					mu.Unlock()
				}
			}
		}(e.ID)
	}

	// Sample goroutines periodically
	sampleTicker := time.NewTicker(10 * time.Second)
	defer sampleTicker.Stop()
	timer := time.NewTimer(soakDuration)
	defer timer.Stop()

	var maxGoroutines int
loop:
	for {
		select {
		case <-timer.C:
			break loop
		case <-sampleTicker.C:
			g := runtime.NumGoroutine()
			if g > maxGoroutines {
				maxGoroutines = g
			}
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			t.Logf("goroutines=%d heap_alloc=%dKB segments=%d", g, m.HeapAlloc/1024, index.Len())
		}
	}

	close(stopCh)
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := coord.StopAll(ctx); err != nil {
		t.Errorf("stop all: %v", err)
	}

	mu.Lock()
	t.Logf("queries=%d clips=%d errors=%d max_goroutines=%d", queries, clips, errs, maxGoroutines)
	if errs > 0 {
		t.Errorf("expected no query errors, got %d", errs)
	}
	if clips == 0 {
		t.Error("expected queries to return clips")
	}
	mu.Unlock()

	if engine.MaxConcurrent() > soakCameras {
		t.Errorf("expected at most %d live processes, got %d", soakCameras, engine.MaxConcurrent())
	}

	// No temporary file may survive a clean shutdown
	filepath.Walk(layout.Root, func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.HasSuffix(path, "_recording.mp4") {
			t.Errorf("temporary file left behind: %s", path)
		}
		return nil
	})

	runtime.GC()
	testutil.AssertNoGoroutineLeaks(t, baselineGoroutines, 5)
}
