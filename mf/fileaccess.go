package mf

import (
	"fmt"
	"os"
	"sync"
)

// fileAccess serves arbitrary byte-range reads from a named file. The OS
// handle may be closed at any time and is transparently reopened by
// filename on the next read; it holds no state beyond the filename.
type fileAccess struct {
	path string
	size int64

	mu   sync.RWMutex
	file *os.File
}

func openFileAccess(path string) (*fileAccess, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &fileAccess{path: path, size: info.Size(), file: file}, nil
}

func (f *fileAccess) Size() int64 {
	return f.size
}

// ReadRange reads exactly length bytes at the given offset as a single
// I/O operation, returning a fresh buffer with no shared cursor state.
// The handle stays held for the duration of the read, so a concurrent
// CloseFile waits instead of failing the read.
func (f *fileAccess) ReadRange(offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > f.size {
		return nil, fmt.Errorf("mapfile: range [%d,%d) outside file of %d bytes", offset, offset+length, f.size)
	}
	file, release, err := f.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	buffer := make([]byte, length)
	if _, err := file.ReadAt(buffer, offset); err != nil {
		return nil, err
	}
	return buffer, nil
}

// acquire returns the open handle while holding a read lock, reopening
// the file first when CloseFile released it. The caller must call
// release when done with the handle.
func (f *fileAccess) acquire() (*os.File, func(), error) {
	for {
		f.mu.RLock()
		if f.file != nil {
			return f.file, f.mu.RUnlock, nil
		}
		f.mu.RUnlock()

		f.mu.Lock()
		if f.file == nil {
			file, err := os.Open(f.path)
			if err != nil {
				f.mu.Unlock()
				return nil, nil, err
			}
			f.file = file
		}
		f.mu.Unlock()
	}
}

// CloseFile releases the OS handle after in-flight reads finish. Later
// reads reopen the file.
func (f *fileAccess) CloseFile() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
