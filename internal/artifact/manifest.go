package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/KaramelBytes/mpie/internal/utils"
)

const manifestName = "manifest.json"

// FileEntry records one downloaded file.
type FileEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Snapshot is a complete local copy of the model repository at one commit.
type Snapshot struct {
	Dir       string      `json:"-"`
	Repo      string      `json:"repo"`
	Revision  string      `json:"revision"`
	Commit    string      `json:"commit"`
	FetchedAt time.Time   `json:"fetched_at"`
	Files     []FileEntry `json:"files"`
}

// Path resolves name inside the snapshot and checks that the file exists.
func (s *Snapshot) Path(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	p := filepath.Join(s.Dir, filepath.FromSlash(name))
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("snapshot file %s: %w", name, err)
	}
	return p, nil
}

// TotalSize sums the recorded file sizes.
func (s *Snapshot) TotalSize() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Size
	}
	return n
}

func readManifest(path string) (*Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &s, nil
}

func writeManifest(path string, s *Snapshot) error {
	b, err := utils.PrettyJSON(s)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, b)
}

// intact reports whether every file of s is present with its recorded size
// and, when verify is set, its recorded SHA-256.
func (s *Snapshot) intact(verify bool) error {
	if len(s.Files) == 0 {
		return errors.New("manifest lists no files")
	}
	for _, f := range s.Files {
		p := filepath.Join(s.Dir, filepath.FromSlash(f.Name))
		fi, err := os.Stat(p)
		if err != nil {
			return err
		}
		if fi.Size() != f.Size {
			return fmt.Errorf("%s: size %d, manifest says %d", f.Name, fi.Size(), f.Size)
		}
		if verify {
			sum, err := hashFile(p)
			if err != nil {
				return err
			}
			if sum != f.SHA256 {
				return fmt.Errorf("%s: checksum mismatch", f.Name)
			}
		}
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
