package pipeline

import "os"

// InDir runs fn with the process working directory switched to dir, restoring
// the previous directory on every exit path. The change is process-wide, so
// nothing else may depend on the working directory while fn runs; the stereo
// run is strictly single-threaded, which is what makes this safe.
func InDir(dir string, fn func() error) (err error) {
	prev, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(dir); err != nil {
		return err
	}
	defer func() {
		if restoreErr := os.Chdir(prev); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()
	return fn()
}
