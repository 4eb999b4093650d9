//go:build !windows

package backend

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isHangup reports the EIO a pty master returns once the slave side closes.
func isHangup(err error) bool {
	return errors.Is(err, unix.EIO)
}
