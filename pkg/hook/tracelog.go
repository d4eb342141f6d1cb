package hook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TraceLogName is the file, relative to the host data dir, that receives
// engine trace lines.
const TraceLogName = "trace_log.txt"

// TraceLog appends engine trace lines to a file in the host data dir.
type TraceLog struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// OpenTraceLog truncates and opens dir/trace_log.txt. Each host run starts a
// fresh log.
func OpenTraceLog(dir string) (*TraceLog, error) {
	f, err := os.OpenFile(filepath.Join(dir, TraceLogName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace log: %w", err)
	}
	return &TraceLog{file: f, w: bufio.NewWriter(f)}, nil
}

// Write records one line attributed to pid/tid.
func (l *TraceLog) Write(pid, tid uint32, line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	fmt.Fprintf(l.w, "[%d:%d] ", pid, tid)
	l.w.Write(line)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		l.w.WriteByte('\n')
	}
	return l.w.Flush()
}

// Close flushes and closes the file.
func (l *TraceLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	l.w.Flush()
	err := l.file.Close()
	l.file = nil
	return err
}
