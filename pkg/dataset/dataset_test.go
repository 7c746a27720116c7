package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		input    string
		expected Label
		wantErr  bool
	}{
		{"benign", LabelBenign, false},
		{"Phishing", LabelPhishing, false},
		{"ham", LabelBenign, false},
		{"spam", LabelPhishing, false},
		{"0", LabelBenign, false},
		{"1", LabelPhishing, false},
		{" legitimate ", LabelBenign, false},
		{"unknown", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			label, err := ParseLabel(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownLabel) {
					t.Errorf("ParseLabel(%q) error = %v, want ErrUnknownLabel", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLabel(%q) failed: %v", tt.input, err)
			}
			if label != tt.expected {
				t.Errorf("ParseLabel(%q) = %v, want %v", tt.input, label, tt.expected)
			}
		})
	}
}

func TestLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	content := `{"text": "verify your account now", "label": "phishing"}
{"text": "meeting notes attached", "label": 0}

{"text": "your password expires today", "label": 1}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadJSONL(path)
	if err != nil {
		t.Fatalf("LoadJSONL failed: %v", err)
	}

	if ds.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ds.Len())
	}
	if ds.Examples[0].Label != LabelPhishing {
		t.Errorf("First example label = %v, want phishing", ds.Examples[0].Label)
	}
	if ds.Examples[1].Label != LabelBenign {
		t.Errorf("Second example label = %v, want benign", ds.Examples[1].Label)
	}

	stats := ds.Stats()
	if stats[LabelPhishing] != 2 || stats[LabelBenign] != 1 {
		t.Errorf("Stats = %v, want 2 phishing / 1 benign", stats)
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.csv")
	content := "id,text,label\n1,\"click here to claim your prize\",phishing\n2,\"quarterly report draft\",benign\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV failed: %v", err)
	}

	if ds.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ds.Len())
	}
	if ds.Examples[0].Text != "click here to claim your prize" {
		t.Errorf("Text = %q", ds.Examples[0].Text)
	}
	if ds.Examples[0].Label != LabelPhishing || ds.Examples[1].Label != LabelBenign {
		t.Errorf("Labels = %v, %v", ds.Examples[0].Label, ds.Examples[1].Label)
	}
}

func TestLoadDispatch(t *testing.T) {
	if _, err := Load("corpus.parquet"); err == nil {
		t.Error("Load should reject unsupported formats")
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaigns.yaml")
	content := `phishing:
  - "Your mailbox is full, verify here to avoid suspension"
  - "Unusual sign-in activity detected, confirm your identity"
benign:
  - "Reminder: all-hands meeting moved to 3pm"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}

	stats := ds.Stats()
	if stats[LabelPhishing] != 2 || stats[LabelBenign] != 1 {
		t.Errorf("Stats = %v, want 2 phishing / 1 benign", stats)
	}
}

func TestLoadSeedsMergesIntoCorpus(t *testing.T) {
	dir := t.TempDir()
	content := "phishing:\n  - \"wire transfer needed urgently\"\n"
	if err := os.WriteFile(filepath.Join(dir, "seeds.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	// A broken file is skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(":\t not yaml"), 0644); err != nil {
		t.Fatal(err)
	}

	corpus := makeCorpus(4)
	loaded, err := LoadSeeds(corpus, dir)
	if err != nil {
		t.Fatalf("LoadSeeds failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
	if corpus.Len() != 5 {
		t.Errorf("corpus length = %d, want 5", corpus.Len())
	}
}
