// Package storage writes downloaded payloads and the metadata catalog to disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrIO is matched by every filesystem failure reported by this package.
var ErrIO = errors.New("storage: io failure")

// IOError describes a failed filesystem operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrIO) match any IOError.
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

// Persister saves payloads below Root.
type Persister struct {
	Root string
}

// NewPersister returns a persister rooted at root.
func NewPersister(root string) *Persister {
	return &Persister{Root: root}
}

// Save writes data to Root/dir/<sanitized filename>, creating dir as needed
// and overwriting any existing file. It returns the written path.
func (p *Persister) Save(data []byte, dir, filename string) (string, error) {
	target := filepath.Join(p.Root, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", &IOError{Op: "create directory", Path: target, Err: err}
	}

	path := filepath.Join(target, SanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", &IOError{Op: "write file", Path: path, Err: err}
	}
	return path, nil
}
