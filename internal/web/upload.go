package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/KaramelBytes/mpie/internal/dataset"
)

const multipartMemory = 8 << 20

// saveUpload copies the multipart "file" field to a temp file that keeps the
// original extension. The caller must call cleanup.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (path, name string, cleanup func(), err error) {
	cleanup = func() {}
	if s.opts.MaxUploadBytes > 0 {
		// Allow room for the multipart envelope around the file.
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", "", cleanup, &dataset.InputError{Reason: fmt.Sprintf("upload exceeds %s", humanize.IBytes(uint64(s.opts.MaxUploadBytes)))}
		}
		return "", "", cleanup, &dataset.InputError{Reason: "expected a multipart form upload", Err: err}
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		return "", "", cleanup, &dataset.InputError{Reason: "no file was uploaded", Err: err}
	}
	defer file.Close()

	name = filepath.Base(strings.ReplaceAll(hdr.Filename, "\\", "/"))
	tmp, err := os.CreateTemp(s.opts.UploadDir, "upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", "", cleanup, fmt.Errorf("create upload file: %w", err)
	}
	cleanup = func() { _ = os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		cleanup()
		return "", "", func() {}, fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("store upload: %w", err)
	}
	return tmp.Name(), name, cleanup, nil
}
