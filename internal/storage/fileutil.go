// Package storage provides the narrow file-system surface the directory
// writer needs: open/create a table or manifest file, buffer writes to
// it, and fsync it on demand. It intentionally knows nothing about tables,
// partitions, or epochs.
package storage

import (
	"bufio"
	"fmt"
	"os"
)

// FileWriter buffers appends to one file and fsyncs on request. The
// table, manifest, and side log writers all share this one
// append/flush/sync/close shape instead of hand-rolling their own
// buffering.
type FileWriter struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	bufferSize int
}

// NewFileWriter creates a writer for path. bufferSize controls the
// bufio.Writer buffer size (0 = default).
func NewFileWriter(path string, bufferSize int) *FileWriter {
	return &FileWriter{
		path:       path,
		bufferSize: bufferSize,
	}
}

// Open opens or creates the file for appending.
func (fw *FileWriter) Open() error {
	file, err := os.OpenFile(fw.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", fw.path, err)
	}
	fw.file = file
	if fw.bufferSize > 0 {
		fw.writer = bufio.NewWriterSize(file, fw.bufferSize)
	} else {
		fw.writer = bufio.NewWriter(file)
	}
	return nil
}

// File returns the underlying file handle.
func (fw *FileWriter) File() *os.File { return fw.file }

// Write buffers p for the next Flush/Sync.
func (fw *FileWriter) Write(p []byte) (int, error) {
	return fw.writer.Write(p)
}

// Flush flushes the buffered writer without fsyncing.
func (fw *FileWriter) Flush() error {
	if fw.writer == nil {
		return nil
	}
	return fw.writer.Flush()
}

// Sync flushes the buffer and fsyncs the file.
func (fw *FileWriter) Sync() error {
	if err := fw.Flush(); err != nil {
		return err
	}
	if fw.file == nil {
		return nil
	}
	return fw.file.Sync()
}

// Close flushes, syncs, and closes the file.
func (fw *FileWriter) Close() error {
	if err := fw.Sync(); err != nil {
		return err
	}
	if fw.file == nil {
		return nil
	}
	return fw.file.Close()
}

// EnsureDir creates a directory (and any missing parents) if it doesn't
// already exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists reports whether path names an existing file or directory.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileSize returns the size of the file at path in bytes.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
