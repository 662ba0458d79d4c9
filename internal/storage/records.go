// Package storage reads and writes record directories and report artifacts.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/medparse/medparse/internal/record"
)

// ErrInputDirMissing indicates a stage input directory does not exist.
var ErrInputDirMissing = errors.New("input directory missing")

// MalformedError reports a record file that could not be parsed.
type MalformedError struct {
	File string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed record %s: %v", e.File, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var m *MalformedError
	return errors.As(err, &m)
}

// CheckDir returns ErrInputDirMissing when dir is not an existing directory.
func CheckDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInputDirMissing, dir)
		}
		return fmt.Errorf("checking %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInputDirMissing, dir)
	}
	return nil
}

// ListRecords returns the base names of *.json files in dir, sorted.
func ListRecords(dir string) ([]string, error) {
	if err := CheckDir(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadRecord reads dir/name. Parse failures are returned as *MalformedError.
func ReadRecord(dir, name string) (*record.Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	rec, err := record.Decode(data)
	if err != nil {
		return nil, &MalformedError{File: name, Err: err}
	}
	return rec, nil
}

// WriteRecord atomically replaces dir/name with the encoded record.
func WriteRecord(dir, name string, rec *record.Record) error {
	data, err := record.Encode(rec)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return WriteFileAtomic(filepath.Join(dir, name), data)
}

// CopyRecord copies a record file byte for byte.
func CopyRecord(srcDir, dstDir, name string) error {
	data, err := os.ReadFile(filepath.Join(srcDir, name))
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return WriteFileAtomic(filepath.Join(dstDir, name), data)
}

// WriteFileAtomic writes data to a temp file in the destination directory,
// syncs it, and renames it over path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		cleanup()
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
