//go:build !windows

package signaler

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// checkRelayDir refuses a directory another account could write into: the
// relay is executed as the runner, often root.
func checkRelayDir(dir string) error {
	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return fmt.Errorf("signaler: stat %s: %w", dir, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("%w: %s is not a directory", ErrUnsafeRelayDir, dir)
	}
	if int(st.Uid) != os.Geteuid() {
		return fmt.Errorf("%w: %s is owned by uid %d", ErrUnsafeRelayDir, dir, st.Uid)
	}
	if st.Mode&0o022 != 0 {
		return fmt.Errorf("%w: %s has mode %#o", ErrUnsafeRelayDir, dir, st.Mode&0o777)
	}
	return nil
}
