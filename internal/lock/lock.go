package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/wpsave/wpsave/internal/logging"
)

// Indirections over os functions so tests can inject controlled failures.
var (
	osStat     = os.Stat
	osRemove   = os.Remove
	osOpenFile = os.OpenFile
	osReadFile = os.ReadFile
	syncFile   = func(f *os.File) error { return f.Sync() }
)

// ErrLockHeld is returned when another live process holds the lock.
var ErrLockHeld = errors.New("another backup is already running")

// AliveProber reports whether the process recorded in a lock file is still
// running.
type AliveProber interface {
	Alive(pid int) bool
}

// kernelProber asks the kernel directly with a null signal.
type kernelProber struct{}

func (kernelProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

// Record is the parsed content of a lock file.
type Record struct {
	PID  int
	Host string
	Time time.Time
}

// Manager acquires and releases the single-run lock file.
type Manager struct {
	path   string
	maxAge time.Duration
	prober AliveProber
	logger *logging.Logger
}

// NewManager creates a lock manager for the given lock file path. maxAge is
// the backstop after which a lock is considered stale even when the holder
// cannot be probed (0 disables the backstop).
func NewManager(path string, maxAge time.Duration, logger *logging.Logger) *Manager {
	return &Manager{
		path:   path,
		maxAge: maxAge,
		prober: kernelProber{},
		logger: logger,
	}
}

// SetProber replaces the liveness prober (useful for tests).
func (m *Manager) SetProber(p AliveProber) {
	if p == nil {
		m.prober = kernelProber{}
		return
	}
	m.prober = p
}

// Acquire takes the lock, reclaiming it first if the recorded holder is dead
// or the file is older than the configured backstop. A lock freed mid-flight
// is retried exactly once; losing that second race reports contention.
func (m *Manager) Acquire() (*Handle, error) {
	for attempt := 0; attempt < 2; attempt++ {
		handle, err := m.tryCreate()
		if err == nil {
			return handle, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		stale, detail := m.inspect()
		if !stale {
			return nil, fmt.Errorf("%w (%s)", ErrLockHeld, detail)
		}

		m.logger.Warning("Reclaiming stale lock %s (%s)", m.path, detail)
		if err := osRemove(m.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, ErrLockHeld
}

func (m *Manager) tryCreate() (*Handle, error) {
	f, err := osOpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hostname, _ := os.Hostname()
	content := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n",
		os.Getpid(), hostname, time.Now().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		osRemove(m.path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := syncFile(f); err != nil {
		m.logger.Warning("Failed to sync lock file %s: %v", m.path, err)
	}

	m.logger.Debug("Lock acquired: %s (pid %d)", m.path, os.Getpid())
	return &Handle{path: m.path, pid: os.Getpid(), logger: m.logger}, nil
}

// inspect decides whether the existing lock is stale. Returns the verdict and
// a human-readable detail for logging.
func (m *Manager) inspect() (stale bool, detail string) {
	rec, err := m.readRecord()
	if err == nil && rec.PID > 0 {
		if !m.prober.Alive(rec.PID) {
			return true, fmt.Sprintf("holder pid %d is dead", rec.PID)
		}
		if m.maxAge > 0 && !rec.Time.IsZero() && time.Since(rec.Time) > m.maxAge {
			return true, fmt.Sprintf("lock older than %s (held since %s)", m.maxAge, rec.Time.Format(time.RFC3339))
		}
		return false, fmt.Sprintf("held by pid %d on %s", rec.PID, rec.Host)
	}

	// Unreadable or malformed record: fall back to file age.
	info, statErr := osStat(m.path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			// Holder released between our create attempt and now.
			return true, "lock vanished"
		}
		return false, fmt.Sprintf("lock file unreadable: %v", statErr)
	}
	age := time.Since(info.ModTime())
	if m.maxAge > 0 && age > m.maxAge {
		return true, fmt.Sprintf("malformed lock older than %s (age %s)", m.maxAge, age.Round(time.Second))
	}
	return false, fmt.Sprintf("lock present (age %s)", age.Round(time.Second))
}

func (m *Manager) readRecord() (Record, error) {
	data, err := osReadFile(m.path)
	if err != nil {
		return Record{}, err
	}
	return parseRecord(data), nil
}

func parseRecord(data []byte) Record {
	var rec Record
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				rec.PID = pid
			}
		case "host":
			rec.Host = value
		case "time":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				rec.Time = ts
			}
		}
	}
	return rec
}

// Handle represents an acquired lock. Release is safe to call multiple times
// and from deferred paths.
type Handle struct {
	path     string
	pid      int
	mu       sync.Mutex
	released bool
	logger   *logging.Logger
}

// Path returns the lock file path.
func (h *Handle) Path() string {
	return h.path
}

// Release removes the lock file. It only removes a file still owned by this
// process: if another run reclaimed the lock in the meantime, the foreign
// lock is left untouched.
func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	data, err := osReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file on release: %w", err)
	}
	if rec := parseRecord(data); rec.PID != h.pid {
		h.logger.Warning("Lock %s no longer owned (held by pid %d), leaving in place", h.path, rec.PID)
		return nil
	}

	if err := osRemove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	h.logger.Debug("Lock released: %s", h.path)
	return nil
}
