package dataset

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/nightglass/phishtune/pkg/hub"
)

// DefaultCorpusPath is the default location for the downloaded corpus.
const DefaultCorpusPath = "./data/phishing"

// DefaultCorpusRepo is the HuggingFace dataset repository for the default corpus.
const DefaultCorpusRepo = "ealvaradob/phishing-dataset"

// DefaultCorpusFile is the corpus file fetched from the dataset repository.
const DefaultCorpusFile = "combined_reduced.jsonl"

// EnsureCorpusDownloaded checks that the corpus file exists locally and
// downloads it from the hub if not. Auto-download is gated on the
// PHISHTUNE_AUTO_DOWNLOAD env var, matching the model downloader.
func EnsureCorpusDownloaded(dir string) (string, error) {
	if dir == "" {
		dir = DefaultCorpusPath
	}

	path := filepath.Join(dir, DefaultCorpusFile)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	autoDownload := os.Getenv("PHISHTUNE_AUTO_DOWNLOAD")
	if autoDownload != "true" && autoDownload != "1" {
		return "", fmt.Errorf("corpus not found at %s; set PHISHTUNE_AUTO_DOWNLOAD=true to fetch %s", path, DefaultCorpusRepo)
	}

	log.Printf("[dataset] Corpus not found at %s. Downloading %s...", path, DefaultCorpusRepo)

	err := hub.EnsureDownloaded("datasets", DefaultCorpusRepo, dir, []hub.File{
		{Name: DefaultCorpusFile, Required: true, Size: "12MB"},
	})
	if err != nil {
		return "", err
	}
	return path, nil
}
