package docqa

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// OpenFiles opens paths for upload. The returned func closes every file.
func OpenFiles(paths []string) ([]Document, func(), error) {
	var (
		docs  []Document
		files []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("open %s: %w", path, err)
		}
		files = append(files, f)
		info, err := f.Stat()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			closeAll()
			return nil, func() {}, errors.New(path + " is a directory")
		}
		docs = append(docs, Document{Name: filepath.Base(path), Size: info.Size(), Content: f})
	}
	return docs, closeAll, nil
}
