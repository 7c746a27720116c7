package dataset

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// seeds.go - Hand-curated seed examples merged into the corpus from YAML.
//
// Seed files let operators add known-bad campaigns (or known-good templates
// that trip false positives) to the training corpus without editing the
// downloaded dataset.

type seedFile struct {
	Phishing []string `yaml:"phishing"`
	Benign   []string `yaml:"benign"`
}

// LoadSeedFile reads one YAML seed file and returns its examples.
func LoadSeedFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	ds := &Dataset{}
	for _, text := range file.Phishing {
		ds.Append(Example{Text: text, Label: LabelPhishing})
	}
	for _, text := range file.Benign {
		ds.Append(Example{Text: text, Label: LabelBenign})
	}
	return ds, nil
}

// LoadSeeds loads all YAML seed files from a directory into the corpus.
// Files that fail to parse are logged and skipped so one bad file does not
// block a run.
func LoadSeeds(corpus *Dataset, seedDir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(seedDir, "*.yaml"))
	if err != nil {
		return 0, fmt.Errorf("failed to list seed files: %w", err)
	}

	totalLoaded := 0
	for _, file := range files {
		ds, err := LoadSeedFile(file)
		if err != nil {
			log.Printf("[dataset] Error loading %s: %v", file, err)
			continue
		}
		corpus.Append(ds.Examples...)
		totalLoaded += ds.Len()
	}

	return totalLoaded, nil
}
