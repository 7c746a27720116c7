// Package dataset provides labeled phishing corpora: loading, deterministic
// sampling, and train/test splitting for fine-tuning experiments.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Dataset errors
var (
	ErrSampleTooLarge  = errors.New("requested sample exceeds corpus size")
	ErrEmptyCorpus     = errors.New("corpus contains no examples")
	ErrUnknownLabel    = errors.New("unknown label")
	ErrInvalidFraction = errors.New("test fraction must be in (0, 1)")
)

// Label is the ground-truth class of an example.
type Label int

const (
	// LabelBenign marks legitimate content
	LabelBenign Label = 0
	// LabelPhishing marks phishing content
	LabelPhishing Label = 1
)

// NumLabels is the number of classes in the task.
const NumLabels = 2

// String returns the canonical label name.
func (l Label) String() string {
	switch l {
	case LabelBenign:
		return "benign"
	case LabelPhishing:
		return "phishing"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// ParseLabel converts a label name or numeric string to a Label.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "benign", "legitimate", "ham", "0":
		return LabelBenign, nil
	case "phishing", "phish", "spam", "1":
		return LabelPhishing, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, s)
	}
}

// Example is a single labeled text record. Immutable once loaded.
type Example struct {
	Text  string `json:"text"`
	Label Label  `json:"label"`
}

// Dataset is an ordered sequence of labeled examples.
type Dataset struct {
	Examples []Example
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Examples)
}

// Texts returns the raw texts in order.
func (d *Dataset) Texts() []string {
	out := make([]string, len(d.Examples))
	for i, ex := range d.Examples {
		out[i] = ex.Text
	}
	return out
}

// Stats returns the number of examples per label.
func (d *Dataset) Stats() map[Label]int {
	stats := make(map[Label]int, NumLabels)
	for _, ex := range d.Examples {
		stats[ex.Label]++
	}
	return stats
}

// Append adds examples to the dataset, preserving order.
func (d *Dataset) Append(examples ...Example) {
	d.Examples = append(d.Examples, examples...)
}

// LoadJSONL reads a corpus from a JSON-lines file. Each line is an object
// with "text" and "label" fields; label may be a name or a 0/1 number.
func LoadJSONL(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	ds := &Dataset{}
	scanner := bufio.NewScanner(f)
	// Phishing emails routinely exceed bufio's default 64KB line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw struct {
			Text  string          `json:"text"`
			Label json.RawMessage `json:"label"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, fmt.Errorf("line %d: invalid record: %w", lineNo, err)
		}

		label, err := parseRawLabel(raw.Label)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		ds.Append(Example{Text: raw.Text, Label: label})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}

	if ds.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	return ds, nil
}

// LoadCSV reads a corpus from a CSV file with a header row containing
// "text" and "label" columns (any order, extra columns ignored).
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	textCol, labelCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "text", "body", "content":
			textCol = i
		case "label", "class":
			labelCol = i
		}
	}
	if textCol < 0 || labelCol < 0 {
		return nil, fmt.Errorf("CSV header must contain text and label columns, got %v", header)
	}

	ds := &Dataset{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if textCol >= len(record) || labelCol >= len(record) {
			continue
		}

		label, err := ParseLabel(record[labelCol])
		if err != nil {
			return nil, err
		}
		ds.Append(Example{Text: record[textCol], Label: label})
	}

	if ds.Len() == 0 {
		return nil, ErrEmptyCorpus
	}
	return ds, nil
}

// Load reads a corpus, dispatching on the file extension (.jsonl/.ndjson
// or .csv).
func Load(path string) (*Dataset, error) {
	switch {
	case strings.HasSuffix(path, ".csv"):
		return LoadCSV(path)
	case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".ndjson"):
		return LoadJSONL(path)
	default:
		return nil, fmt.Errorf("unsupported corpus format: %s", path)
	}
}

func parseRawLabel(raw json.RawMessage) (Label, error) {
	if len(raw) == 0 {
		return 0, ErrUnknownLabel
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return ParseLabel(asString)
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		if asInt != 0 && asInt != 1 {
			return 0, fmt.Errorf("%w: %d", ErrUnknownLabel, asInt)
		}
		return Label(asInt), nil
	}

	return 0, fmt.Errorf("%w: %s", ErrUnknownLabel, string(raw))
}
