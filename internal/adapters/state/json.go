package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/fsutil"
)

// JSONLedger is a MemoryLedger persisted to a single JSON file after every
// write. It suits single-user CLI history where SQLite is not wanted.
type JSONLedger struct {
	*MemoryLedger
	path       string
	backupPath string
	lockPath   string
	lockTTL    time.Duration
}

// JSONLedgerOption configures the ledger.
type JSONLedgerOption func(*JSONLedger)

// WithBackupPath sets the backup file path.
func WithBackupPath(path string) JSONLedgerOption {
	return func(l *JSONLedger) {
		l.backupPath = path
	}
}

// WithLockTTL sets the age after which a lock is considered stale.
func WithLockTTL(ttl time.Duration) JSONLedgerOption {
	return func(l *JSONLedger) {
		l.lockTTL = ttl
	}
}

// ledgerSnapshot is the persisted document.
type ledgerSnapshot struct {
	Runs       []core.WorkflowRun   `json:"runs"`
	Executions []core.NodeExecution `json:"executions"`
}

// ledgerEnvelope wraps the snapshot with an integrity checksum.
type ledgerEnvelope struct {
	Version   int            `json:"version"`
	Checksum  string         `json:"checksum"`
	UpdatedAt time.Time      `json:"updated_at"`
	Ledger    ledgerSnapshot `json:"ledger"`
}

// NewJSONLedger opens or creates the ledger file at path and takes an
// exclusive lock on it until Close.
func NewJSONLedger(path string, opts ...JSONLedgerOption) (*JSONLedger, error) {
	l := &JSONLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         path,
		backupPath:   path + ".bak",
		lockPath:     path + ".lock",
		lockTTL:      time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	if err := l.acquireLock(); err != nil {
		return nil, err
	}
	if err := l.load(); err != nil {
		_ = l.releaseLock()
		return nil, err
	}
	l.onChange = l.save
	return l, nil
}

// Path returns the ledger file path.
func (l *JSONLedger) Path() string {
	return l.path
}

// Close releases the file lock.
func (l *JSONLedger) Close() error {
	return l.releaseLock()
}

// save writes the current contents. It runs with the memory lock held.
func (l *JSONLedger) save() error {
	var snap ledgerSnapshot
	for _, r := range l.runs {
		snap.Runs = append(snap.Runs, *r)
		for _, e := range l.execs[r.ID] {
			snap.Executions = append(snap.Executions, *e)
		}
	}

	checksum, err := checksumOf(snap)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(ledgerEnvelope{
		Version:   1,
		Checksum:  checksum,
		UpdatedAt: time.Now(),
		Ledger:    snap,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	if _, err := os.Stat(l.path); err == nil {
		if prev, err := fsutil.ReadFileScoped(l.path); err == nil {
			if err := fsutil.WriteFileAtomic(l.backupPath, prev, 0o644); err != nil {
				return fmt.Errorf("creating backup: %w", err)
			}
		}
	}
	if err := fsutil.WriteFileAtomic(l.path, data, 0o644); err != nil {
		return fmt.Errorf("writing ledger file: %w", err)
	}
	return nil
}

// load reads the ledger file, falling back to the backup when the primary
// copy is corrupt.
func (l *JSONLedger) load() error {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return nil
	}

	snap, err := loadSnapshot(l.path)
	if err != nil {
		backup, backupErr := loadSnapshot(l.backupPath)
		if backupErr != nil {
			return fmt.Errorf("loading ledger: %w (backup also failed: %v)", err, backupErr)
		}
		snap = backup
	}

	for i := range snap.Runs {
		r := snap.Runs[i]
		l.runs[r.ID] = &r
		l.execs[r.ID] = make(map[core.NodeID]*core.NodeExecution)
	}
	for i := range snap.Executions {
		e := snap.Executions[i]
		if rows, ok := l.execs[e.RunID]; ok {
			rows[e.NodeID] = &e
		}
	}
	return nil
}

func loadSnapshot(path string) (ledgerSnapshot, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return ledgerSnapshot{}, fmt.Errorf("reading file: %w", err)
	}
	var env ledgerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ledgerSnapshot{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	checksum, err := checksumOf(env.Ledger)
	if err != nil {
		return ledgerSnapshot{}, err
	}
	if checksum != env.Checksum {
		return ledgerSnapshot{}, core.ErrConflict(core.CodeLedgerCorrupted, "checksum mismatch")
	}
	return env.Ledger, nil
}

func checksumOf(snap ledgerSnapshot) (string, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling ledger for checksum: %w", err)
	}
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:]), nil
}

func (l *JSONLedger) acquireLock() error {
	if data, err := os.ReadFile(l.lockPath); err == nil {
		var info lockInfo
		if err := json.Unmarshal(data, &info); err == nil {
			if time.Since(info.AcquiredAt) < l.lockTTL && processExists(info.PID) && info.PID != os.Getpid() {
				return core.ErrConflict(core.CodeLedgerLocked,
					fmt.Sprintf("ledger locked by PID %d since %s", info.PID, info.AcquiredAt.Format(time.RFC3339)))
			}
		}
		// stale
		_ = os.Remove(l.lockPath)
	}

	hostname, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrConflict(core.CodeLedgerLocked, "lock file created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(l.lockPath)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

func (l *JSONLedger) releaseLock() error {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing lock info: %w", err)
	}
	if info.PID != os.Getpid() {
		return core.ErrConflict(core.CodeLedgerLocked, "lock owned by different process")
	}
	return os.Remove(l.lockPath)
}

// lockInfo is the content of the lock file.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// processExists reports whether pid is alive. Signal 0 probes without
// delivering anything; Windows refuses it for the current process.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	if runtime.GOOS == "windows" {
		_, err := os.FindProcess(pid)
		return err == nil
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

var _ core.Ledger = (*JSONLedger)(nil)
