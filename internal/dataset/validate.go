// Package dataset checks uploaded tables before they reach the analysis
// script and builds a quick profile of their columns.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

var accepted = map[string]bool{".csv": true, ".tsv": true, ".txt": true}

// InputError describes a dataset the analysis cannot use. Its message is
// safe to show to end users.
type InputError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Name == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// IsInputError reports whether err wraps an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// Accepts reports whether filename has a supported extension.
func Accepts(filename string) bool {
	return accepted[strings.ToLower(filepath.Ext(filename))]
}

// Validate checks that path names a non-empty, supported file of at most
// maxBytes (0 disables the limit).
func Validate(path string, maxBytes int64) error {
	name := filepath.Base(path)
	if !Accepts(name) {
		return &InputError{Name: name, Reason: fmt.Sprintf("unsupported file type %q (want .csv, .tsv or .txt)", filepath.Ext(name))}
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &InputError{Name: name, Reason: "file not found", Err: err}
		}
		return fmt.Errorf("stat dataset: %w", err)
	}
	if fi.IsDir() {
		return &InputError{Name: name, Reason: "is a directory"}
	}
	if fi.Size() == 0 {
		return &InputError{Name: name, Reason: "file is empty"}
	}
	if maxBytes > 0 && fi.Size() > maxBytes {
		return &InputError{Name: name, Reason: fmt.Sprintf("file is %s, limit is %s",
			humanize.IBytes(uint64(fi.Size())), humanize.IBytes(uint64(maxBytes)))}
	}
	return nil
}
