// Package artifact persists trained adapter and head weights as versioned
// JSON snapshots: created at save time, immutable thereafter, consumed at
// load time for inference or resumption.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nightglass/phishtune/pkg/adapter"
)

// Version1 is the artifact encoding format. The only one for now.
const Version1 = "adapter.v1"

// FileName is the artifact file written inside a checkpoint directory.
const FileName = "adapter_model.json"

// Artifact errors
var (
	ErrNotFound       = errors.New("artifact not found")
	ErrVersionUnknown = errors.New("unknown artifact version")
)

// Variable is one serialized parameter with its shape and trainable flag.
type Variable struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Trainable bool      `json:"trainable"`
	Data      []float64 `json:"data"`
}

// Artifact is a persisted snapshot of the trainable surface.
type Artifact struct {
	Version   string              `json:"version"`
	ModelID   string              `json:"model_id"`
	Dim       int                 `json:"dim"`
	NumLabels int                 `json:"num_labels"`
	TrainBase bool                `json:"train_base"`
	Lora      *adapter.LoraConfig `json:"lora,omitempty"`
	Metrics   map[string]float64  `json:"metrics,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	Variables []Variable          `json:"variables"`
}

// Snapshot captures the model's current weights into an artifact.
func Snapshot(m *adapter.Model, trainBase bool, metrics map[string]float64) *Artifact {
	a := &Artifact{
		Version:   Version1,
		ModelID:   m.ModelID,
		Dim:       m.Dim,
		NumLabels: m.NumLabels,
		TrainBase: trainBase,
		Lora:      m.Lora,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
	for _, p := range m.Params() {
		rows, cols := p.Shape()
		a.Variables = append(a.Variables, Variable{
			Name:      p.Name,
			Shape:     []int{rows, cols},
			Trainable: p.Trainable,
			Data:      p.Data(),
		})
	}
	return a
}

// Save writes the artifact into dir via an atomic tmp-file rename.
func (a *Artifact) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	path := filepath.Join(dir, FileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return nil
}

// Load reads the artifact stored in dir.
func Load(dir string) (*Artifact, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if a.Version != Version1 {
		return nil, fmt.Errorf("%w: %q", ErrVersionUnknown, a.Version)
	}
	return &a, nil
}

// Restore rebuilds a model from the artifact's configuration and weights.
// Every variable in the artifact must exist in the rebuilt model with a
// matching shape.
func (a *Artifact) Restore() (*adapter.Model, error) {
	m, err := adapter.Build(a.ModelID, a.Dim, a.NumLabels, a.TrainBase, a.Lora, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild model: %w", err)
	}
	for _, v := range a.Variables {
		if err := m.SetVariable(v.Name, v.Shape, v.Data); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", v.Name, err)
		}
	}
	return m, nil
}

// Exists reports whether dir holds a saved artifact.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}
