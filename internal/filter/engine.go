// Package filter is the image filter engine: it applies an ordered
// operation sequence to a single image file and reports sizes and timing.
package filter

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"imagehub/internal/protocol"
)

const (
	blurSigma    = 5.0
	sharpenSigma = 1.0

	// Fallback dimensions when a resize operation omits them.
	defaultResizeWidth  = 800
	defaultResizeHeight = 600
)

// contourKernel is a 3x3 edge-detection convolution.
var contourKernel = [9]float64{
	-1, -1, -1,
	-1, 8, -1,
	-1, -1, -1,
}

// Result describes one processed image.
type Result struct {
	SizeBeforeKB float64
	SizeAfterKB  float64
	Elapsed      time.Duration
}

// Engine applies operation sequences to image files. It is stateless and
// safe for concurrent use by multiple worker slots.
type Engine struct{}

// New creates a filter engine.
func New() *Engine {
	return &Engine{}
}

// Process loads inputPath, applies ops in order and writes the transformed
// image to outputPath. CPU-bound; callers bound concurrency.
func (e *Engine) Process(ctx context.Context, inputPath, outputPath string, ops []protocol.Operation) (Result, error) {
	start := time.Now()

	sizeBefore, err := fileSizeKB(inputPath)
	if err != nil {
		return Result{}, err
	}

	img, err := imaging.Open(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open image: %w", err)
	}

	out := imaging.Clone(img)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		out = apply(out, op)
	}

	if err := imaging.Save(out, outputPath); err != nil {
		return Result{}, fmt.Errorf("failed to save image: %w", err)
	}

	sizeAfter, err := fileSizeKB(outputPath)
	if err != nil {
		return Result{}, err
	}

	return Result{
		SizeBeforeKB: sizeBefore,
		SizeAfterKB:  sizeAfter,
		Elapsed:      time.Since(start),
	}, nil
}

func apply(img image.Image, op protocol.Operation) *image.NRGBA {
	switch op.Kind {
	case protocol.OpBlur:
		return imaging.Blur(img, blurSigma)
	case protocol.OpGrayscale:
		return imaging.Grayscale(img)
	case protocol.OpSharpen:
		return imaging.Sharpen(img, sharpenSigma)
	case protocol.OpContour:
		return imaging.Convolve3x3(img, contourKernel, nil)
	case protocol.OpResize:
		w, h := op.Width, op.Height
		if w <= 0 {
			w = defaultResizeWidth
		}
		if h <= 0 {
			h = defaultResizeHeight
		}
		return imaging.Resize(img, w, h, imaging.Lanczos)
	default:
		return imaging.Clone(img)
	}
}

func fileSizeKB(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	kb := float64(info.Size()) / 1024
	return math.Round(kb*100) / 100, nil
}
