package encoder

// downloader.go - Auto-download of the base encoder for first runs
//
// Only the minimal files needed for ONNX feature extraction are fetched:
// - model.onnx (80MB) - The ONNX model
// - vocab.txt (230KB) - WordPiece vocabulary
// - tokenizer.json (700KB) - Tokenizer vocabulary
// - config.json (1KB) - Model configuration
// - tokenizer_config.json (1KB) - Tokenizer configuration
// - special_tokens_map.json (1KB) - Special tokens

import (
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/nightglass/phishtune/pkg/hub"
)

// modelFiles lists the minimal files needed for ONNX feature extraction.
var modelFiles = []hub.File{
	{Name: "model.onnx", Required: true, Size: "80MB"},
	{Name: "vocab.txt", Required: true, Size: "230KB"},
	{Name: "tokenizer.json", Required: true, Size: "700KB"},
	{Name: "config.json", Required: true, Size: "1KB"},
	{Name: "tokenizer_config.json", Required: false, Size: "1KB"},
	{Name: "special_tokens_map.json", Required: false, Size: "1KB"},
}

// ModelExists checks if a valid ONNX model exists at the given path.
func ModelExists(modelPath string) bool {
	onnxPath := filepath.Join(modelPath, "model.onnx")
	vocabPath := filepath.Join(modelPath, "vocab.txt")

	if _, err := os.Stat(onnxPath); err != nil {
		return false
	}
	if _, err := os.Stat(vocabPath); err != nil {
		return false
	}
	return true
}

// EnsureModelDownloaded checks if the base model exists and downloads it if
// not. Auto-download is gated on PHISHTUNE_AUTO_DOWNLOAD so batch jobs never
// fetch hundreds of megabytes by surprise.
func EnsureModelDownloaded(modelPath string) error {
	if modelPath == "" {
		modelPath = DefaultModelPath
	}
	if ModelExists(modelPath) {
		return nil
	}

	autoDownload := os.Getenv("PHISHTUNE_AUTO_DOWNLOAD")
	if autoDownload != "true" && autoDownload != "1" {
		log.Printf("[encoder] No model at %s. Set PHISHTUNE_AUTO_DOWNLOAD=true to fetch %s.", modelPath, ModelMiniLM)
		return nil
	}

	log.Printf("[encoder] Model not found at %s. Downloading %s (~80MB, one-time)...", modelPath, ModelMiniLM)
	return hub.EnsureDownloaded("models", ModelMiniLM, modelPath, modelFiles)
}

// getDefaultOnnxPath returns the platform-specific ONNX Runtime library path.
func getDefaultOnnxPath() string {
	if envPath := os.Getenv("PHISHTUNE_ONNX_LIBRARY_PATH"); envPath != "" {
		return envPath
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "linux":
		candidates = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		}
	case "windows":
		candidates = []string{
			"C:\\onnxruntime\\lib\\onnxruntime.dll",
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
