package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"

	"github.com/ghalamif/AegisStream/internal/ports"
)

const DefaultSession = time.Minute

// fileSeq is shared by every FileBackend in the process so two sinks pointed
// at the same directory never race for the same name.
var fileSeq atomic.Uint64

type FileConfig struct {
	Dir     string        `yaml:"dir"`
	Session time.Duration `yaml:"session"`
}

// FileBackend appends batches to a session file under Dir. A session file is
// closed once it has been open for longer than Session; the next batch opens
// a new one named <yyyymmdd_hhmmss>_<seq>.txt.
type FileBackend struct {
	fs      afero.Fs
	dir     string
	session time.Duration
	clock   ports.Clock

	mu     sync.Mutex
	file   afero.File
	opened time.Time
}

func NewFileBackend(cfg FileConfig, fs afero.Fs, clock ports.Clock) (*FileBackend, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("file sink: %w", ports.ErrMissingDestination)
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clock == nil {
		clock = ports.RealClock{}
	}
	if cfg.Session <= 0 {
		cfg.Session = DefaultSession
	}
	if err := fs.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("file sink: create dir: %w", err)
	}
	return &FileBackend{fs: fs, dir: cfg.Dir, session: cfg.Session, clock: clock}, nil
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) WriteBatch(_ context.Context, batch []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if f.file != nil && now.Sub(f.opened) > f.session {
		if err := f.closeLocked(); err != nil && len(batch) == 0 {
			return err
		}
	}
	if len(batch) == 0 {
		return nil
	}

	if f.file == nil {
		if err := f.openLocked(now); err != nil {
			return err
		}
	}
	if _, err := f.file.Write(batch); err != nil {
		_ = f.closeLocked()
		return fmt.Errorf("append to session file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		_ = f.closeLocked()
		return fmt.Errorf("sync session file: %w", err)
	}
	return nil
}

// Close releases the open session file, if any.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

// Current returns the path of the open session file, empty when none is open.
func (f *FileBackend) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return ""
	}
	return f.file.Name()
}

func (f *FileBackend) openLocked(now time.Time) error {
	stamp := now.Format("20060102_150405")
	for attempt := 0; attempt < 16; attempt++ {
		name := filepath.Join(f.dir, fmt.Sprintf("%s_%04d.txt", stamp, fileSeq.Add(1)))
		file, err := f.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("open session file: %w", err)
		}
		f.file = file
		f.opened = now
		return nil
	}
	return fmt.Errorf("open session file: no free name for %s", stamp)
}

func (f *FileBackend) closeLocked() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	if err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	return nil
}

var _ ports.Backend = (*FileBackend)(nil)
