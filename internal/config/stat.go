package config

import "os"

// osStat returns the file size for path, used by waitForFileStable to
// detect when a config file write has finished.
func osStat(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
