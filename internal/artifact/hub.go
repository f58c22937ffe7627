package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/mpie/internal/utils"
)

type repoInfo struct {
	SHA      string `json:"sha"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// HubError is a non-2xx answer from the model hub.
type HubError struct {
	URL    string
	Status int
}

func (e *HubError) Error() string {
	return fmt.Sprintf("model hub %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func escapeRepo(repo string) string {
	parts := strings.Split(repo, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (f *Fetcher) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "mpie")
	if f.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.opts.Token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &HubError{URL: u, Status: resp.StatusCode}
	}
	return resp, nil
}

// listRepo resolves the requested revision to a commit and lists its files.
func (f *Fetcher) listRepo(ctx context.Context) (string, []string, error) {
	u := fmt.Sprintf("%s/api/models/%s/revision/%s",
		strings.TrimRight(f.opts.Endpoint, "/"), escapeRepo(f.opts.Repo), url.PathEscape(f.opts.Revision))
	resp, err := f.get(ctx, u)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	var info repoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", nil, fmt.Errorf("decode repo listing: %w", err)
	}
	commit := info.SHA
	if commit == "" {
		commit = f.opts.Revision
	}
	names := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if !filepath.IsLocal(s.RFilename) {
			return "", nil, fmt.Errorf("%w: %q", ErrUnsafePath, s.RFilename)
		}
		names = append(names, s.RFilename)
	}
	if len(names) == 0 {
		return "", nil, fmt.Errorf("repository %s@%s lists no files", f.opts.Repo, f.opts.Revision)
	}
	return commit, names, nil
}

// fetchFile streams one file into dir, hashing it on the way.
func (f *Fetcher) fetchFile(ctx context.Context, commit, name, dir string) (FileEntry, error) {
	u := fmt.Sprintf("%s/%s/resolve/%s/%s",
		strings.TrimRight(f.opts.Endpoint, "/"), escapeRepo(f.opts.Repo), url.PathEscape(commit), escapeRepo(name))
	resp, err := f.get(ctx, u)
	if err != nil {
		return FileEntry{}, err
	}
	defer resp.Body.Close()

	dest := filepath.Join(dir, filepath.FromSlash(name))
	if err := utils.EnsureDir(filepath.Dir(dest)); err != nil {
		return FileEntry{}, err
	}
	entry := FileEntry{Name: name}
	h := sha256.New()
	err = utils.SafeWrite(dest, func(w io.Writer) error {
		n, err := io.Copy(io.MultiWriter(w, h), resp.Body)
		entry.Size = n
		return err
	})
	if err != nil {
		return FileEntry{}, fmt.Errorf("download %s: %w", name, err)
	}
	entry.SHA256 = hex.EncodeToString(h.Sum(nil))
	return entry, nil
}
