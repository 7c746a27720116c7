// Package tokenizer converts raw text into fixed-length WordPiece token
// sequences with attention masks, matching the vocabulary of the frozen
// base encoder.
package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
)

// ErrNoVocab indicates the vocabulary file could not be located.
var ErrNoVocab = errors.New("vocab.txt not found")

// DefaultMaxLength caps token sequences at the encoder's trained length.
const DefaultMaxLength = 256

// Config configures the WordPiece tokenizer.
type Config struct {
	// VocabPath is a vocab.txt file or a model directory containing one.
	VocabPath string
	// MaxLength is the fixed output sequence length. Longer texts are
	// truncated, shorter ones padded.
	MaxLength int
	// Lowercase applies BERT-style lowercasing before tokenization.
	Lowercase bool
}

// DefaultConfig returns a configuration for a BERT-style uncased encoder.
func DefaultConfig(vocabPath string) Config {
	return Config{
		VocabPath: vocabPath,
		MaxLength: DefaultMaxLength,
		Lowercase: true,
	}
}

// Tokenizer wraps a sugarme WordPiece tokenizer (BERT-style) and enforces
// fixed-length output.
type Tokenizer struct {
	t         *tk.Tokenizer
	maxLength int
}

// New loads vocab.txt and builds a BERT WordPiece tokenizer with
// normalization, special-token post-processing, and truncation.
func New(cfg Config) (*Tokenizer, error) {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultMaxLength
	}

	vocabFile, err := resolveVocab(cfg.VocabPath)
	if err != nil {
		return nil, err
	}

	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, "[UNK]")
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, cfg.Lowercase, true, true))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	clsID, sepID, err := specialTokenIDs(vocabFile)
	if err != nil {
		return nil, err
	}
	t.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Value: "[SEP]", Id: sepID},
		processor.PostToken{Value: "[CLS]", Id: clsID},
	))
	t.WithTruncation(&tk.TruncationParams{MaxLength: cfg.MaxLength})

	return &Tokenizer{t: t, maxLength: cfg.MaxLength}, nil
}

// MaxLength returns the fixed output sequence length.
func (t *Tokenizer) MaxLength() int {
	return t.maxLength
}

// Encode converts one text into token ids and an attention mask, both
// exactly MaxLength long. Real positions carry mask 1, padding carries 0.
func (t *Tokenizer) Encode(text string) (ids, mask []int64, err error) {
	normalized, _ := NormalizeUnicode(text)

	enc, err := t.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(normalized)), true)
	if err != nil {
		return nil, nil, fmt.Errorf("tokenization failed: %w", err)
	}

	rawIDs := enc.GetIds()
	rawMask := enc.GetAttentionMask()

	ids = make([]int64, t.maxLength)
	mask = make([]int64, t.maxLength)
	n := len(rawIDs)
	if n > t.maxLength {
		n = t.maxLength
	}
	for i := 0; i < n; i++ {
		ids[i] = int64(rawIDs[i])
		if i < len(rawMask) {
			mask[i] = int64(rawMask[i])
		} else {
			mask[i] = 1
		}
	}
	return ids, mask, nil
}

// EncodeBatch tokenizes texts in order. Output row i corresponds to input i.
func (t *Tokenizer) EncodeBatch(texts []string) (ids, masks [][]int64, err error) {
	ids = make([][]int64, len(texts))
	masks = make([][]int64, len(texts))
	for i, text := range texts {
		rowIDs, rowMask, err := t.Encode(text)
		if err != nil {
			return nil, nil, fmt.Errorf("example %d: %w", i, err)
		}
		ids[i] = rowIDs
		masks[i] = rowMask
	}
	return ids, masks, nil
}

// BatchStats summarizes tokenized output for logging. Sequences with no
// padding sit at the length cap: either an exact fit or a truncated text.
type BatchStats struct {
	Examples   int
	AtCapacity int
	MeanTokens float64
}

// ComputeStats derives batch statistics from attention masks. Long inputs
// are truncated silently by design, so pipelines log the at-capacity rate
// to make heavy truncation visible.
func ComputeStats(masks [][]int64) BatchStats {
	stats := BatchStats{Examples: len(masks)}
	if len(masks) == 0 {
		return stats
	}

	total := 0
	for _, mask := range masks {
		real := 0
		for _, m := range mask {
			if m == 1 {
				real++
			}
		}
		total += real
		if real == len(mask) {
			stats.AtCapacity++
		}
	}
	stats.MeanTokens = float64(total) / float64(len(masks))
	return stats
}

// resolveVocab accepts either a vocab.txt path or a model directory.
func resolveVocab(path string) (string, error) {
	if path == "" {
		return "", ErrNoVocab
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoVocab, path)
	}
	if fi.IsDir() {
		vocabFile := filepath.Join(path, "vocab.txt")
		if _, err := os.Stat(vocabFile); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNoVocab, vocabFile)
		}
		return vocabFile, nil
	}
	return path, nil
}

// specialTokenIDs scans the vocab file for the [CLS] and [SEP] positions.
// Line order defines token ids in WordPiece vocab files.
func specialTokenIDs(vocabFile string) (clsID, sepID int, err error) {
	f, err := os.Open(vocabFile)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()

	clsID, sepID = -1, -1
	scanner := bufio.NewScanner(f)
	idx := 0
	for scanner.Scan() {
		switch scanner.Text() {
		case "[CLS]":
			clsID = idx
		case "[SEP]":
			sepID = idx
		}
		idx++
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("failed to scan vocabulary: %w", err)
	}

	if clsID < 0 || sepID < 0 {
		return 0, 0, fmt.Errorf("vocabulary missing [CLS]/[SEP] special tokens")
	}
	return clsID, sepID, nil
}
