package hub

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File describes one downloadable file in a hub repository.
type File struct {
	Name     string
	Required bool
	Size     string // Human-readable size for progress
}

// downloadMutex prevents concurrent downloads into the same directory.
var downloadMutex sync.Mutex

// EnsureDownloaded fetches the listed repository files into destPath unless
// they are already present. kind is "models" or "datasets".
func EnsureDownloaded(kind, repoID, destPath string, files []File) error {
	if allPresent(destPath, files) {
		return nil
	}

	downloadMutex.Lock()
	defer downloadMutex.Unlock()

	// Double-check after acquiring lock
	if allPresent(destPath, files) {
		return nil
	}

	if err := os.MkdirAll(destPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	for _, file := range files {
		fileURL := ResolveURL(kind, repoID, file.Name)
		destFile := filepath.Join(destPath, file.Name)

		if _, err := os.Stat(destFile); err == nil {
			log.Printf("  ✓ %s (already exists)", file.Name)
			continue
		}

		log.Printf("  ↓ Downloading %s (%s)...", file.Name, file.Size)
		if err := DownloadFile(fileURL, destFile); err != nil {
			if file.Required {
				return fmt.Errorf("failed to download %s: %w", file.Name, err)
			}
			log.Printf("  ⚠ Optional file %s not available: %v", file.Name, err)
		} else {
			log.Printf("  ✓ %s downloaded", file.Name)
		}
	}

	log.Printf("Downloaded %s to %s", repoID, destPath)
	return nil
}

// DownloadFile downloads a single URL to destPath via an atomic tmp-file rename.
func DownloadFile(url, destPath string) error {
	tmpPath := destPath + ".tmp"
	defer func() { _ = os.Remove(tmpPath) }() // Clean up on failure

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	client := NewHTTPClient(10 * time.Minute)
	resp, err := client.Get(url) //nolint:gosec // URL is controlled
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := CheckResponse(resp); err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	// Close before rename (required on Windows)
	_ = out.Close()

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	return nil
}

func allPresent(destPath string, files []File) bool {
	for _, file := range files {
		if !file.Required {
			continue
		}
		if _, err := os.Stat(filepath.Join(destPath, file.Name)); err != nil {
			return false
		}
	}
	return true
}
