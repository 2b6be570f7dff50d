// Package filelock provides the exclusive-lock truncate-and-rewrite helper
// shared by the circuit breaker and the ledger's daily-spend counter. It
// mirrors the Python original's fcntl.flock-guarded write path
// (original_source/adapters/circuit_breaker.py._write_state).
package filelock

import (
	"os"
	"syscall"
)

// WriteExclusive opens path for read/write (creating it with mode 0o644 if
// missing), takes an exclusive advisory lock, truncates it, writes data, and
// releases the lock. The lock is held only for the duration of the rewrite --
// matching the teacher/original's "avoid long-held locks" discipline.
func WriteExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// AppendAtomic opens path for append (creating parent directories and the
// file as needed) and writes data in a single syscall. Ledger appends rely
// on the filesystem's atomic-append semantics per spec §4.2/§9 and take no
// lock.
func AppendAtomic(path string, data []byte) error {
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
