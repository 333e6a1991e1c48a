package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/trophyctl/internal/errors"
)

const defaultName = "trophyctl.pid"

// File guards a single running instance
type File struct {
	path string
}

// Default returns the PID file in the system temp directory
func Default() File {
	return File{path: filepath.Join(os.TempDir(), defaultName)}
}

// At returns a PID file at path
func At(path string) File {
	return File{path: path}
}

func (f File) Path() string {
	return f.path
}

// Write records the current process ID. It fails with ErrAlreadyRunning
// when the file names another live process; a stale file is replaced.
func (f File) Write() error {
	errFactory := errors.New()

	if other, err := f.read(); err == nil && other != os.Getpid() && alive(other) {
		return errFactory.WithData(errors.ErrAlreadyRunning, other)
	} else if err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file if it exists
func (f File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func (f File) read() (int, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		// Unreadable content is treated as stale
		return 0, nil
	}

	return pid, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
