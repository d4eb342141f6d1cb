package hook

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Callbacks for engine reports that the host wants to observe.
type Callbacks struct {
	OnHookInstalled func(pid, hookID uint32, symbol string)
	OnHookFailed    func(pid, hookID uint32, reason string)
	OnTrace         func(pid, tid uint32, line []byte)
}

// ProcessChecker answers liveness questions about target processes.
type ProcessChecker interface {
	Alive(pid uint32) bool
	// Mapped reports whether library is mapped into pid's address space.
	Mapped(pid uint32, library string) (bool, error)
}

// Target is what the host knows about one process running the engine.
type Target struct {
	PID           uint32
	FirstSeen     time.Time
	LastHeartbeat time.Time
	Hooks         map[uint32]string // hook id -> symbol, installed hooks only
	LastFailure   string
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	SocketPath string
	// Library, when set, must be mapped in a target for it to count as
	// intercepting.
	Library    string
	StaleAfter time.Duration
	Checker    ProcessChecker
	Callbacks  Callbacks

	// VerifySender drops reports whose header pid differs from the pid the
	// kernel attaches to the datagram. Only enforced on Linux.
	VerifySender bool
}

// Manager listens on a Unix DGRAM socket for reports from the engine running
// inside target processes and keeps the per-target hook state used by the
// liveness probe.
type Manager struct {
	opts       ManagerOptions
	logger     *zap.Logger
	numWorkers int
	now        func() time.Time

	conn     *net.UnixConn
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	targets  map[uint32]*Target
	received atomic.Int64
	rejected atomic.Int64
}

// NewManager creates a new report listener.
func NewManager(opts ManagerOptions, logger *zap.Logger) *Manager {
	// Use at least 2 workers, up to GOMAXPROCS
	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		workers = 2
	}
	if workers > 8 {
		workers = 8
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Second
	}

	return &Manager{
		opts:       opts,
		logger:     logger,
		numWorkers: workers,
		now:        time.Now,
		stopCh:     make(chan struct{}),
		targets:    make(map[uint32]*Target),
	}
}

// Start begins listening for engine reports.
func (m *Manager) Start(ctx context.Context) error {
	dir := filepath.Dir(m.opts.SocketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Remove stale socket
	os.Remove(m.opts.SocketPath)

	addr := &net.UnixAddr{Name: m.opts.SocketPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unix: %w", err)
	}
	m.conn = conn

	conn.SetReadBuffer(1024 * 1024)

	if m.opts.VerifySender && credentialsSupported {
		if err := enablePassCred(conn); err != nil {
			conn.Close()
			return fmt.Errorf("enable sender credentials: %w", err)
		}
	}

	// Targets run as arbitrary users.
	os.Chmod(m.opts.SocketPath, 0777)

	m.logger.Info("engine report listener started",
		zap.String("socket", m.opts.SocketPath),
		zap.Int("workers", m.numWorkers),
	)

	for i := 0; i < m.numWorkers; i++ {
		m.wg.Add(1)
		go m.readLoop(ctx, i)
	}

	return nil
}

// Stop shuts down the listener and removes the socket.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		if m.conn != nil {
			m.conn.Close()
		}
		m.wg.Wait()
		os.Remove(m.opts.SocketPath)
	})
	return nil
}

// Received returns the number of reports accepted so far.
func (m *Manager) Received() int64 {
	return m.received.Load()
}

// Rejected returns the number of reports dropped because the sender did not
// match the pid they named.
func (m *Manager) Rejected() int64 {
	return m.rejected.Load()
}

func (m *Manager) readLoop(ctx context.Context, workerID int) {
	defer m.wg.Done()

	buf := make([]byte, HeaderSize+MaxPayload)
	oob := make([]byte, credentialsSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		n, oobn, _, _, err := m.conn.ReadMsgUnix(buf, oob)
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				m.logger.Debug("read error", zap.Int("worker", workerID), zap.Error(err))
				continue
			}
		}

		msg, err := ParseMessage(buf[:n])
		if err != nil {
			m.logger.Debug("dropping malformed report", zap.Int("size", n), zap.Error(err))
			continue
		}

		if m.opts.VerifySender && credentialsSupported {
			sender, ok := senderPID(oob[:oobn])
			if !ok || sender != msg.Header.PID {
				m.rejected.Add(1)
				m.logger.Debug("dropping report from mismatched sender",
					zap.Uint32("claimed_pid", msg.Header.PID),
					zap.Uint32("sender_pid", sender),
					zap.String("type", MsgTypeName(msg.Header.MsgType)),
				)
				continue
			}
		}

		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg *Message) {
	h := msg.Header
	now := m.now()
	m.received.Add(1)

	if h.MsgType == MsgTrace {
		m.touch(h.PID, now)
		if m.opts.Callbacks.OnTrace != nil && len(msg.Payload) > 0 {
			m.opts.Callbacks.OnTrace(h.PID, h.TID, msg.Payload)
		}
		return
	}

	m.mu.Lock()
	switch h.MsgType {
	case MsgHello, MsgHeartbeat:
		m.targetLocked(h.PID, now).LastHeartbeat = now

	case MsgHookInstalled:
		t := m.targetLocked(h.PID, now)
		t.LastHeartbeat = now
		t.Hooks[h.HookID] = string(msg.Payload)

	case MsgHookFailed:
		t := m.targetLocked(h.PID, now)
		t.LastHeartbeat = now
		delete(t.Hooks, h.HookID)
		t.LastFailure = string(msg.Payload)

	case MsgDetach:
		delete(m.targets, h.PID)

	default:
		m.mu.Unlock()
		m.logger.Debug("unknown report type", zap.String("type", MsgTypeName(h.MsgType)))
		return
	}
	m.mu.Unlock()

	switch h.MsgType {
	case MsgHookInstalled:
		m.logger.Info("hook installed",
			zap.Uint32("pid", h.PID),
			zap.Uint32("hook_id", h.HookID),
			zap.String("symbol", string(msg.Payload)),
		)
		if m.opts.Callbacks.OnHookInstalled != nil {
			m.opts.Callbacks.OnHookInstalled(h.PID, h.HookID, string(msg.Payload))
		}
	case MsgHookFailed:
		m.logger.Warn("hook install failed",
			zap.Uint32("pid", h.PID),
			zap.Uint32("hook_id", h.HookID),
			zap.String("reason", string(msg.Payload)),
		)
		if m.opts.Callbacks.OnHookFailed != nil {
			m.opts.Callbacks.OnHookFailed(h.PID, h.HookID, string(msg.Payload))
		}
	case MsgDetach:
		m.logger.Info("engine detached", zap.Uint32("pid", h.PID))
	}
}

func (m *Manager) touch(pid uint32, now time.Time) {
	m.mu.Lock()
	m.targetLocked(pid, now).LastHeartbeat = now
	m.mu.Unlock()
}

func (m *Manager) targetLocked(pid uint32, now time.Time) *Target {
	t, ok := m.targets[pid]
	if !ok {
		t = &Target{PID: pid, FirstSeen: now, Hooks: make(map[uint32]string)}
		m.targets[pid] = t
	}
	return t
}

// Targets returns copies of all known targets ordered by pid.
func (m *Manager) Targets() []Target {
	m.mu.RLock()
	out := make([]Target, 0, len(m.targets))
	for _, t := range m.targets {
		c := *t
		c.Hooks = make(map[uint32]string, len(t.Hooks))
		for id, sym := range t.Hooks {
			c.Hooks[id] = sym
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Intercepting counts targets whose hooks are installed and working right
// now: at least one installed hook, a heartbeat within StaleAfter, a live
// process and, when Library is set, the engine still mapped. Targets whose
// process is gone are forgotten.
func (m *Manager) Intercepting() (count int, lastHeartbeat time.Time) {
	now := m.now()
	var dead []uint32

	for _, t := range m.Targets() {
		if t.LastHeartbeat.After(lastHeartbeat) {
			lastHeartbeat = t.LastHeartbeat
		}
		if m.opts.Checker != nil && !m.opts.Checker.Alive(t.PID) {
			dead = append(dead, t.PID)
			continue
		}
		if len(t.Hooks) == 0 || now.Sub(t.LastHeartbeat) > m.opts.StaleAfter {
			continue
		}
		if m.opts.Checker != nil && m.opts.Library != "" {
			mapped, err := m.opts.Checker.Mapped(t.PID, m.opts.Library)
			if err != nil {
				m.logger.Debug("mapping check failed", zap.Uint32("pid", t.PID), zap.Error(err))
				continue
			}
			if !mapped {
				continue
			}
		}
		count++
	}

	if len(dead) > 0 {
		m.mu.Lock()
		for _, pid := range dead {
			delete(m.targets, pid)
		}
		m.mu.Unlock()
		m.logger.Debug("forgot exited targets", zap.Int("count", len(dead)))
	}

	return count, lastHeartbeat
}
