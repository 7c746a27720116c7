package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestVocab writes a minimal WordPiece vocabulary. Line order defines ids.
func writeTestVocab(t *testing.T) string {
	t.Helper()

	vocab := []string{
		"[PAD]", "[UNK]", "[CLS]", "[SEP]", "[MASK]",
		"verify", "your", "account", "now", "click", "here",
		"meeting", "notes", "attached", "password", "expires", "today",
		"##ing", "##s", "a", "the",
	}
	path := filepath.Join(t.TempDir(), "vocab.txt")
	if err := os.WriteFile(path, []byte(strings.Join(vocab, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestTokenizer(t *testing.T, maxLength int) *Tokenizer {
	t.Helper()

	tok, err := New(Config{VocabPath: writeTestVocab(t), MaxLength: maxLength, Lowercase: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return tok
}

func TestEncodeFixedLength(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	tests := []struct {
		name string
		text string
	}{
		{"short", "verify your account"},
		{"empty", ""},
		{"long", strings.Repeat("verify your account now ", 50)},
		{"unknown words", "zzz qqq xxx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, mask, err := tok.Encode(tt.text)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if len(ids) != 16 {
				t.Errorf("len(ids) = %d, want 16", len(ids))
			}
			if len(mask) != 16 {
				t.Errorf("len(mask) = %d, want 16", len(mask))
			}
		})
	}
}

func TestEncodePaddingMask(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	ids, mask, err := tok.Encode("verify your account")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// [CLS] verify your account [SEP] = 5 real positions.
	realCount := 0
	for _, m := range mask {
		if m == 1 {
			realCount++
		}
	}
	if realCount != 5 {
		t.Errorf("real positions = %d, want 5", realCount)
	}

	// Padding positions carry the [PAD] id (0) and mask 0.
	for i := realCount; i < len(ids); i++ {
		if ids[i] != 0 || mask[i] != 0 {
			t.Errorf("position %d: id=%d mask=%d, want padding", i, ids[i], mask[i])
		}
	}
}

func TestEncodeSpecialTokens(t *testing.T) {
	tok := newTestTokenizer(t, 8)

	ids, _, err := tok.Encode("verify")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if ids[0] != 2 {
		t.Errorf("ids[0] = %d, want [CLS] id 2", ids[0])
	}
	if ids[1] != 5 {
		t.Errorf("ids[1] = %d, want verify id 5", ids[1])
	}
	if ids[2] != 3 {
		t.Errorf("ids[2] = %d, want [SEP] id 3", ids[2])
	}
}

func TestEncodeTruncation(t *testing.T) {
	tok := newTestTokenizer(t, 8)

	long := strings.Repeat("verify account ", 40)
	ids, mask, err := tok.Encode(long)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if len(ids) != 8 || len(mask) != 8 {
		t.Fatalf("lengths = %d/%d, want 8/8", len(ids), len(mask))
	}
	// Truncated sequences are fully real, no padding.
	for i, m := range mask {
		if m != 1 {
			t.Errorf("mask[%d] = %d, want 1 on truncated input", i, m)
		}
	}
}

func TestEncodeBatchOrderPreserving(t *testing.T) {
	tok := newTestTokenizer(t, 16)

	texts := []string{"verify your account", "meeting notes attached", "password expires today"}
	ids, masks, err := tok.EncodeBatch(texts)
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}

	if len(ids) != 3 || len(masks) != 3 {
		t.Fatalf("batch sizes = %d/%d, want 3/3", len(ids), len(masks))
	}
	for i, text := range texts {
		single, _, err := tok.Encode(text)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		for j := range single {
			if ids[i][j] != single[j] {
				t.Errorf("batch row %d differs from single encode of %q", i, text)
				break
			}
		}
	}
}

func TestComputeStats(t *testing.T) {
	masks := [][]int64{
		{1, 1, 1, 0},
		{1, 1, 1, 1},
	}
	stats := ComputeStats(masks)

	if stats.Examples != 2 {
		t.Errorf("Examples = %d, want 2", stats.Examples)
	}
	if stats.AtCapacity != 1 {
		t.Errorf("AtCapacity = %d, want 1", stats.AtCapacity)
	}
	if stats.MeanTokens != 3.5 {
		t.Errorf("MeanTokens = %f, want 3.5", stats.MeanTokens)
	}

	if empty := ComputeStats(nil); empty.Examples != 0 || empty.MeanTokens != 0 {
		t.Errorf("empty stats = %+v, want zero values", empty)
	}
}

func TestNormalizeUnicode(t *testing.T) {
	tests := []struct {
		input          string
		expected       string
		wantNormalized bool
	}{
		{"verify", "verify", false},
		{"Ｖｅｒｉｆｙ", "Verify", true}, // fullwidth
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, wasNormalized := NormalizeUnicode(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeUnicode(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			if wasNormalized != tt.wantNormalized {
				t.Errorf("wasNormalized = %v, want %v", wasNormalized, tt.wantNormalized)
			}
		})
	}
}

func TestNewMissingVocab(t *testing.T) {
	if _, err := New(Config{VocabPath: "/nonexistent/vocab.txt", MaxLength: 16}); err == nil {
		t.Error("New should fail on missing vocabulary")
	}
	if _, err := New(Config{VocabPath: "", MaxLength: 16}); err == nil {
		t.Error("New should fail on empty vocab path")
	}
}
