package artifact

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Fetcher downloads zipped artifact bundles and verifies their checksum.
type Fetcher struct {
	cacheDir string
	client   *http.Client
	mu       sync.Mutex
}

// NewFetcher creates a fetcher that stages downloads in cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = os.TempDir()
	}
	return &Fetcher{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// Fetch downloads the bundle at url, checks it against checksum
// ("sha256:<hex>" or bare hex) and loads every artifact in it.
func (f *Fetcher) Fetch(ctx context.Context, url, checksum string) (*Store, error) {
	if checksum == "" {
		return nil, ErrChecksumRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	zipPath := filepath.Join(f.cacheDir, fmt.Sprintf("artifacts-%d.zip", time.Now().UnixNano()))
	if err := f.download(ctx, url, zipPath); err != nil {
		return nil, fmt.Errorf("download artifacts: %w", err)
	}
	defer os.Remove(zipPath)

	if err := verifyChecksum(zipPath, checksum); err != nil {
		return nil, err
	}
	return LoadZip(zipPath)
}

func (f *Fetcher) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d from %s", resp.StatusCode, url)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(out, resp.Body)
	out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func verifyChecksum(path, expected string) error {
	want := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(expected), "sha256:"))

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return fmt.Errorf("hash bundle: %w", err)
	}

	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, got)
	}
	return nil
}

// LoadZip loads every artifact contained in a zip file.
func LoadZip(path string) (*Store, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	store := NewStore()
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isArtifactFile(f.Name) || strings.Contains(f.Name, "build-info/") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}

		a, err := Parse(contractNameFromPath(f.Name), data)
		if errors.Is(err, ErrNotArtifact) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.Name, err)
		}
		a.Path = f.Name
		store.Add(a)
	}
	return store, nil
}
