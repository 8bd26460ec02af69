// Package storage persists mission records and provides the JSONL file
// primitive shared by the file-backed stores.
package storage

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLFile is a file of one JSON record per line. Appends are cheap;
// updates rewrite the whole file through a temp file and rename.
type JSONLFile[T any] struct {
	path string
	mu   sync.RWMutex
}

// NewJSONLFile creates the parent directory and returns the file handle
func NewJSONLFile[T any](path string) (*JSONLFile[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &JSONLFile[T]{path: path}, nil
}

// Path returns the file location
func (f *JSONLFile[T]) Path() string { return f.path }

// ReadAll returns every well-formed record
func (f *JSONLFile[T]) ReadAll() ([]T, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.readAll()
}

// Append writes one record at the end of the file
func (f *JSONLFile[T]) Append(rec T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = file.Write(append(data, '\n'))
	return err
}

// Update runs a read-modify-write cycle under the write lock. If fn
// returns an error nothing is written.
func (f *JSONLFile[T]) Update(fn func(recs []T) ([]T, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	recs, err := f.readAll()
	if err != nil {
		return err
	}
	recs, err = fn(recs)
	if err != nil {
		return err
	}
	return f.writeAll(recs)
}

func (f *JSONLFile[T]) readAll() ([]T, error) {
	file, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var recs []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec T
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // Skip malformed lines
		}
		recs = append(recs, rec)
	}
	return recs, scanner.Err()
}

func (f *JSONLFile[T]) writeAll(recs []T) error {
	tmpFile := f.path + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			file.Close()
			os.Remove(tmpFile)
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tmpFile)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}
	return os.Rename(tmpFile, f.path)
}

// GenerateID creates a short random ID with the given prefix
func GenerateID(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random ID: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}
