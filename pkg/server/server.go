// Package server exposes a trained classifier over HTTP.
package server

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/nightglass/phishtune/pkg/adapter"
	"github.com/nightglass/phishtune/pkg/dataset"
	"github.com/nightglass/phishtune/pkg/encoder"
)

// MaxTextBytes caps classify request texts. Longer texts get truncated by
// the tokenizer anyway; rejecting early keeps the embed path cheap.
const MaxTextBytes = 32 * 1024

// ClassifyRequest is the POST /v1/classify payload.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// ClassifyResponse is the classification verdict.
type ClassifyResponse struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Scores     []float64 `json:"scores"`
	ModelID    string    `json:"model_id"`
	ElapsedMs  int64     `json:"elapsed_ms"`
}

// Server serves a trained model.
type Server struct {
	app      *fiber.App
	model    *adapter.Model
	provider encoder.Provider
}

// New builds the HTTP app around a trained model and its encoder.
func New(model *adapter.Model, provider encoder.Provider) (*Server, error) {
	if model == nil || provider == nil {
		return nil, fmt.Errorf("server requires a model and an embedding provider")
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:     "phishtune",
			ReadTimeout: 30 * time.Second,
		}),
		model:    model,
		provider: provider,
	}

	s.app.Get("/healthz", s.handleHealth)
	s.app.Post("/v1/classify", s.handleClassify)
	return s, nil
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen blocks serving on addr.
func (s *Server) Listen(addr string) error {
	log.Printf("[server] Listening on %s (model %s)", addr, s.model.ModelID)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"model_id": s.model.ModelID,
		"dim":      s.model.Dim,
	})
}

func (s *Server) handleClassify(c fiber.Ctx) error {
	var req ClassifyRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if len(text) > MaxTextBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "text too large"})
	}

	start := time.Now()

	emb32, err := s.provider.Embed(c.Context(), text)
	if err != nil {
		log.Printf("[server] Embed failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "embedding unavailable"})
	}
	emb := make([]float64, len(emb32))
	for i, v := range emb32 {
		emb[i] = float64(v)
	}

	predicted, scores := s.model.Predict(emb)

	return c.JSON(ClassifyResponse{
		Label:      dataset.Label(predicted).String(),
		Confidence: scores[predicted],
		Scores:     scores,
		ModelID:    s.model.ModelID,
		ElapsedMs:  time.Since(start).Milliseconds(),
	})
}
