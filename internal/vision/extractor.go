package vision

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/your-org/doorgate/internal/config"
)

// ErrNoFace is returned by ExtractReference when the image contains no
// detectable face.
var ErrNoFace = errors.New("no face detected")

// Extractor turns encoded images into face embeddings: decode → detect →
// crop → embed, one embedding per detected face.
//
// ONNX sessions hold fixed input/output tensors, so runs are serialized
// with a mutex. One extractor per process is enough for a door camera's
// frame rate.
type Extractor struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

func NewExtractor(cfg config.VisionConfig) (*Extractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Extractor{detector: det, embedder: emb}, nil
}

// Extract returns one embedding per face found in the image. Zero faces
// yields an empty slice, not an error.
func (e *Extractor) Extract(imageData []byte) ([][]float32, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	e.mu.Lock()
	defer e.mu.Unlock()

	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	detections, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	var embeddings [][]float32
	for _, det := range detections {
		crop := cropFace(img, det.BBox)
		if crop == nil {
			continue
		}

		embInput := preprocessForEmbedding(crop, e.embedder.inputW, e.embedder.inputH)
		embedding, err := e.embedder.Embed(embInput)
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		embeddings = append(embeddings, embedding)
	}

	return embeddings, nil
}

// ExtractReference embeds the highest-confidence face in a reference
// image. Enrollment requires exactly one usable face.
func (e *Extractor) ExtractReference(imageData []byte) ([]float32, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	e.mu.Lock()
	defer e.mu.Unlock()

	detInput := preprocessForDetection(img, e.detector.inputW, e.detector.inputH)
	detections, err := e.detector.Detect(detInput, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(detections) == 0 {
		return nil, ErrNoFace
	}

	best := detections[0]
	for _, det := range detections[1:] {
		if det.Confidence > best.Confidence {
			best = det
		}
	}

	crop := cropFace(img, best.BBox)
	if crop == nil {
		return nil, ErrNoFace
	}

	embInput := preprocessForEmbedding(crop, e.embedder.inputW, e.embedder.inputH)
	return e.embedder.Embed(embInput)
}

func (e *Extractor) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
}
