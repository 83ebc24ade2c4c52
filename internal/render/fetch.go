package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher resolves a media reference to a local file.
type Fetcher interface {
	Fetch(ctx context.Context, ref, dir, name string) (string, error)
}

// MediaFetcher downloads http(s) references into the job directory and
// resolves anything else as a path under the media root.
type MediaFetcher struct {
	root     string
	client   *http.Client
	maxBytes int64
}

// NewMediaFetcher returns a fetcher for mediaRoot. maxBytes <= 0 disables
// the download size limit.
func NewMediaFetcher(mediaRoot string, timeout time.Duration, maxBytes int64) *MediaFetcher {
	return &MediaFetcher{
		root:     mediaRoot,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch returns a local path for ref. Downloads are written to dir as
// name plus the URL's extension.
func (f *MediaFetcher) Fetch(ctx context.Context, ref, dir, name string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("media reference is empty")
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.download(ctx, ref, dir, name)
	}
	return f.local(ref)
}

func (f *MediaFetcher) download(ctx context.Context, ref, dir, name string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid media url %q: %w", ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("invalid media url %q: %w", ref, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", ref, resp.StatusCode)
	}

	dst := filepath.Join(dir, name+strings.ToLower(path.Ext(u.Path)))
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", ref, err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return "", fmt.Errorf("fetch %s: media exceeds %d bytes", ref, f.maxBytes)
	}

	return dst, nil
}

func (f *MediaFetcher) local(ref string) (string, error) {
	p := strings.TrimPrefix(ref, "file://")
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.root, p)
	}
	p = filepath.Clean(p)

	rootAbs, err := filepath.Abs(f.root)
	if err != nil {
		return "", err
	}
	pAbs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, pAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("media %q is outside the media root", ref)
	}

	st, err := os.Stat(pAbs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("media %q not found", ref)
		}
		return "", err
	}
	if st.IsDir() {
		return "", fmt.Errorf("media %q is a directory", ref)
	}

	return pAbs, nil
}
