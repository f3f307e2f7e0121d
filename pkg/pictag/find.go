package pictag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

// Extensions are the file extensions we analyze, compared case-insensitively.
var Extensions = map[string]bool{
	".jpg": true,
	".jpe": true,
	".jif": true,
	".jfi": true,
}

// Find returns every image under root, in directory enumeration order.
// Directories that cannot be read are logged and skipped.
func Find(root string) ([]string, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootNotFound, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, root)
	}

	found := []string{}
	err = godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}

			if Extensions[strings.ToLower(filepath.Ext(path))] {
				klog.V(1).Infof("found %s", path)
				found = append(found, path)
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			klog.Warningf("skipping %s: %v", path, err)
			return godirwalk.SkipNode
		},
	})

	return found, err
}
