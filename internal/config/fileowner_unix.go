//go:build !windows

package config

import (
	"fmt"
	"os"
	"syscall"
)

// checkOwnerAndMode enforces the original loader's secret-file safety rule:
// owned by the running user, mode no more permissive than 0o640.
func checkOwnerAndMode(path string, info os.FileInfo) error {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if int(sys.Uid) != os.Getuid() {
		return fmt.Errorf("secret file not owned by current user: %s", path)
	}
	mode := info.Mode().Perm()
	if mode&0o137 != 0 {
		return fmt.Errorf("secret file has unsafe permissions (%#o): %s, must be <= 0640", mode, path)
	}
	return nil
}
