package kidwatch

import (
	"os"
)

// TempDir returns a new temporary directory for captured images, in /dev/shm
// if possible so frames do not hit the disk, otherwise in the OS default
// temporary directory.
func TempDir() (string, error) {
	// Check /dev/shm is a directory first, to not accidentally create one in
	// /dev when running as root.
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		dir, err := os.MkdirTemp("/dev/shm", "kidwatch")
		if err == nil {
			return dir, nil
		}
	}
	return os.MkdirTemp("", "kidwatch")
}
