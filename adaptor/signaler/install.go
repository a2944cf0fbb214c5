package signaler

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// RelayName is the file name the relay script is installed under.
const RelayName = "signal_subprocess.sh"

//go:embed signal_subprocess.sh
var relayScript []byte

// ErrUnsafeRelayDir is returned when the relay directory could be written by
// another account.
var ErrUnsafeRelayDir = errors.New("signaler: relay directory is not private")

// RelayScript returns the embedded relay script.
func RelayScript() []byte { return relayScript }

// InstallRelay writes the relay script into dir and returns its path. The
// directory and file are world-readable and the file executable, since
// elevated relays run as the job's account. An identical existing file is
// left untouched. On POSIX, dir must be a real directory owned by the
// effective user and not group- or world-writable (ErrUnsafeRelayDir).
//
//	path, err := signaler.InstallRelay("/var/lib/jobsession")
func InstallRelay(dir string) (string, error) {
	if _, err := os.Lstat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("signaler: mkdir %s: %w", dir, err)
		}
		// Undo a permissive umask on the directory we just created.
		if err := os.Chmod(dir, 0o755); err != nil {
			return "", fmt.Errorf("signaler: chmod %s: %w", dir, err)
		}
	}
	if err := checkRelayDir(dir); err != nil {
		return "", err
	}
	path := filepath.Join(dir, RelayName)

	if info, err := os.Lstat(path); err == nil && info.Mode().IsRegular() && sameScript(path) {
		if err := os.Chmod(path, 0o755); err != nil {
			return "", fmt.Errorf("signaler: chmod %s: %w", path, err)
		}
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, RelayName+".*")
	if err != nil {
		return "", fmt.Errorf("signaler: create temp in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(relayScript); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("signaler: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("signaler: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return "", fmt.Errorf("signaler: chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("signaler: install %s: %w", path, err)
	}
	return path, nil
}

func sameScript(path string) bool {
	existing, err := os.ReadFile(path)
	return err == nil && bytes.Equal(existing, relayScript)
}
