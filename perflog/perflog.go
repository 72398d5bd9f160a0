// Package perflog appends per-operation latency and byte-count CSV rows,
// the raw material for the throughput and latency benchmark analyses. It
// is disabled until Init is called; disabled metrics are no-ops.
package perflog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

const logDir = "latency_logs"

var (
	mu          sync.Mutex
	latencyFile *os.File
	bytesFile   *os.File
)

// Init opens (creating if needed) the latency and bytes CSV logs under
// latency_logs/ and writes headers into empty files.
func Init(latencyPath, bytesPath string) error {
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	var err error
	latencyFile, err = openWithHeader(filepath.Join(logDir, latencyPath), "operation,microseconds,milliseconds\n")
	if err != nil {
		return err
	}
	bytesFile, err = openWithHeader(filepath.Join(logDir, bytesPath), "operation,bytes\n")
	if err != nil {
		return err
	}
	klog.Infof("perflog: writing to %s and %s", latencyPath, bytesPath)
	return nil
}

func openWithHeader(path, header string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if _, err := f.WriteString(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// LatencyMetric measures one operation from construction to Finish.
type LatencyMetric struct {
	operation string
	startedAt time.Time
}

func NewLatency(operation string) LatencyMetric {
	return LatencyMetric{operation: operation, startedAt: time.Now()}
}

// Finish appends the elapsed time to the latency log. A no-op when
// perflog was never initialized.
func (m LatencyMetric) Finish() {
	mu.Lock()
	defer mu.Unlock()
	if latencyFile == nil {
		return
	}
	elapsed := time.Since(m.startedAt)
	row := fmt.Sprintf("%s,%d,%d\n", m.operation, elapsed.Microseconds(), elapsed.Milliseconds())
	if _, err := latencyFile.WriteString(row); err != nil {
		klog.Errorf("perflog: failed to append latency row: %v", err)
	}
}

// LogBytes appends a byte count for an operation to the bytes log.
func LogBytes(operation string, numBytes int) {
	mu.Lock()
	defer mu.Unlock()
	if bytesFile == nil {
		return
	}
	if _, err := bytesFile.WriteString(fmt.Sprintf("%s,%d\n", operation, numBytes)); err != nil {
		klog.Errorf("perflog: failed to append bytes row: %v", err)
	}
	klog.V(3).Infof("perflog: %s moved %s", operation, humanize.Bytes(uint64(numBytes)))
}

// Close flushes and closes the log files.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	var errs []error
	if latencyFile != nil {
		errs = append(errs, latencyFile.Close())
		latencyFile = nil
	}
	if bytesFile != nil {
		errs = append(errs, bytesFile.Close())
		bytesFile = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
