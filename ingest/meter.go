// Package ingest provides byte-source instrumentation for streams fed to
// the decode pipeline.
package ingest

import (
	"io"
	"sync/atomic"
	"time"
)

// Stats captures source-level metrics for an ingest stream, exposed for
// end-of-run reporting and source health monitoring.
type Stats struct {
	BytesRead int64 `json:"bytesRead"`
	ReadCount int64 `json:"readCount"`
	UptimeMs  int64 `json:"uptimeMs"`
}

// Meter wraps the raw byte source feeding a pipeline, counting bytes and
// reads so callers can report source throughput. It adds no buffering.
type Meter struct {
	r         io.Reader
	startedAt time.Time

	bytesRead atomic.Int64
	readCount atomic.Int64
}

// NewMeter wraps r with read counters.
func NewMeter(r io.Reader) *Meter {
	return &Meter{r: r, startedAt: time.Now()}
}

// Read implements io.Reader.
func (m *Meter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 {
		m.bytesRead.Add(int64(n))
		m.readCount.Add(1)
	}
	return n, err
}

// Stats returns a snapshot of source metrics.
func (m *Meter) Stats() Stats {
	return Stats{
		BytesRead: m.bytesRead.Load(),
		ReadCount: m.readCount.Load(),
		UptimeMs:  time.Since(m.startedAt).Milliseconds(),
	}
}
