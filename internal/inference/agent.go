// internal/inference/agent.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyedDaiam9101/volseg-service/internal/metrics"
	"github.com/SyedDaiam9101/volseg-service/internal/volume"
)

const (
	// DefaultPatchSize is the spatial extent the default network expects.
	DefaultPatchSize = 64
	// DefaultDevice is the execution target used when none is configured.
	DefaultDevice = "cpu"
	// DefaultNumClasses is background plus two foreground structures.
	DefaultNumClasses = 3
)

const tracerName = "github.com/SyedDaiam9101/volseg-service/internal/inference"

// Agent runs a 2D segmentation network independently over every depth slice
// of a volume and stacks the per-slice label maps into a 3D mask.
//
// An Agent holds no mutable state. It is safe for concurrent use whenever
// its Backend is.
type Agent struct {
	backend   Backend
	patchSize int
	device    string
	policy    DegeneratePolicy
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Agent.
type Option func(*Agent)

// WithPatchSize sets the square spatial extent volumes are conformed to.
func WithPatchSize(n int) Option {
	return func(a *Agent) { a.patchSize = n }
}

// WithDevice records the execution target identifier. It is not interpreted by the agent.
func WithDevice(device string) Option {
	return func(a *Agent) { a.device = device }
}

// WithDegeneratePolicy selects how zero-maximum slices are normalized.
func WithDegeneratePolicy(p DegeneratePolicy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithLogger sets the logger used for per-volume diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an Agent around backend.
func NewAgent(backend Backend, opts ...Option) (*Agent, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	a := &Agent{
		backend:   backend,
		patchSize: DefaultPatchSize,
		device:    DefaultDevice,
		policy:    PolicyZero,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.patchSize <= 0 {
		return nil, fmt.Errorf("patch size must be positive, got %d", a.patchSize)
	}
	if _, err := ParseDegeneratePolicy(string(a.policy)); err != nil {
		return nil, err
	}
	if n := backend.NumClasses(); n < 1 || n > volume.MaxClasses {
		return nil, fmt.Errorf("backend reports %d classes, supported range is [1,%d]", n, volume.MaxClasses)
	}

	return a, nil
}

// PatchSize returns the configured spatial extent.
func (a *Agent) PatchSize() int { return a.patchSize }

// Device returns the configured execution target identifier.
func (a *Agent) Device() string { return a.device }

// NumClasses returns the backend's class count.
func (a *Agent) NumClasses() int { return a.backend.NumClasses() }

// ModelID returns the backend's model fingerprint.
func (a *Agent) ModelID() string { return a.backend.ModelID() }

// Policy returns the degenerate slice policy.
func (a *Agent) Policy() DegeneratePolicy { return a.policy }

// Result is the outcome of segmenting one volume.
type Result struct {
	Mask *volume.Mask
	// DegenerateSlices lists the depth indices whose maximum intensity was 0.
	DegenerateSlices []int
	Elapsed          time.Duration
}

// InferUnpadded conforms v to [depth, patch, patch] and segments it.
// This is the entry point for volumes of arbitrary spatial size.
func (a *Agent) InferUnpadded(ctx context.Context, v *volume.Volume) (*volume.Mask, error) {
	res, err := a.Run(ctx, v, true)
	if err != nil {
		return nil, err
	}
	return res.Mask, nil
}

// Infer segments a volume whose slices already have the patch size.
// Non-conformant input surfaces as a *ShapeMismatchError from the backend.
func (a *Agent) Infer(ctx context.Context, v *volume.Volume) (*volume.Mask, error) {
	res, err := a.Run(ctx, v, false)
	if err != nil {
		return nil, err
	}
	return res.Mask, nil
}

// Run segments v slice by slice in increasing depth order, conforming it
// to the patch size first when conform is set. v is never modified.
func (a *Agent) Run(ctx context.Context, v *volume.Volume, conform bool) (*Result, error) {
	if v == nil || !v.Valid() || len(v.Data) != v.Voxels() {
		return nil, ErrInvalidVolume
	}

	ctx, span := a.tracer.Start(ctx, "Agent.Run", trace.WithAttributes(
		attribute.Int("volume.depth", v.Depth),
		attribute.Int("volume.height", v.Height),
		attribute.Int("volume.width", v.Width),
		attribute.Bool("volume.conform", conform),
		attribute.String("device", a.device),
	))
	defer span.End()

	start := time.Now()

	if conform && !volume.Conformant(v, a.patchSize, a.patchSize) {
		v = volume.Conform(v, a.patchSize, a.patchSize)
	}

	mask := volume.NewMask(v.Shape)
	buf := make([]float32, v.SliceLen())
	var degenerate []int

	for i := 0; i < v.Depth; i++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		sliceStart := time.Now()
		isDegenerate, err := a.inferSlice(ctx, v, i, buf, mask.Slice(i))
		if isDegenerate {
			degenerate = append(degenerate, i)
			metrics.RecordDegenerateSlice()
			a.logger.Warn("degenerate slice", "index", i, "policy", string(a.policy))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		metrics.RecordSliceLatency(time.Since(sliceStart).Seconds())
	}

	elapsed := time.Since(start)
	metrics.RecordVolume(v.Depth, elapsed.Seconds())
	span.SetAttributes(attribute.Int("volume.degenerate_slices", len(degenerate)))

	a.logger.Debug("volume segmented",
		"shape", v.Shape.String(),
		"degenerate_slices", len(degenerate),
		"elapsed", elapsed)

	return &Result{
		Mask:             mask,
		DegenerateSlices: degenerate,
		Elapsed:          elapsed,
	}, nil
}

// inferSlice normalizes slice i of v, runs it through the backend and writes
// the argmax labels into dst. buf is scratch space of one slice.
func (a *Agent) inferSlice(ctx context.Context, v *volume.Volume, i int, buf []float32, dst []volume.Label) (bool, error) {
	degenerate, err := normalizeSlice(v.Slice(i), buf, a.policy)
	if err != nil {
		return degenerate, &DegenerateSliceError{Index: i}
	}

	h, w := int64(v.Height), int64(v.Width)
	in, err := a.backend.ToDevice(Tensor{Shape: []int64{1, 1, h, w}, Data: buf})
	if err != nil {
		return degenerate, fmt.Errorf("slice %d: failed to move input to device: %w", i, err)
	}
	defer func() { _ = in.Release() }()

	out, err := a.backend.Forward(ctx, in, ModeInference)
	if err != nil {
		return degenerate, fmt.Errorf("slice %d: forward pass failed: %w", i, err)
	}
	defer func() { _ = out.Release() }()

	scores, err := a.backend.ToHost(out)
	if err != nil {
		return degenerate, fmt.Errorf("slice %d: failed to copy scores to host: %w", i, err)
	}

	if err := argmaxClasses(scores, h, w, dst); err != nil {
		return degenerate, fmt.Errorf("slice %d: %w", i, err)
	}
	return degenerate, nil
}

// argmaxClasses reduces [1, C, H, W] or [C, H, W] scores to an [H, W] label map.
// The first maximal class wins; a NaN score counts as the maximum.
func argmaxClasses(scores Tensor, h, w int64, dst []volume.Label) error {
	shape := scores.Shape
	if len(shape) == 4 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[1] != h || shape[2] != w {
		return &ShapeMismatchError{Expected: []int64{1, -1, h, w}, Got: scores.Shape}
	}

	classes := shape[0]
	if classes < 1 || classes > volume.MaxClasses {
		return fmt.Errorf("scores carry %d classes, supported range is [1,%d]", classes, volume.MaxClasses)
	}
	plane := h * w
	if int64(len(scores.Data)) != classes*plane {
		return &ShapeMismatchError{Expected: scores.Shape, Got: []int64{int64(len(scores.Data))}}
	}

	for p := int64(0); p < plane; p++ {
		best := 0
		bestScore := scores.Data[p]
		if !isNaN(bestScore) {
			for c := int64(1); c < classes; c++ {
				s := scores.Data[c*plane+p]
				if isNaN(s) {
					best = int(c)
					break
				}
				if s > bestScore {
					best, bestScore = int(c), s
				}
			}
		}
		dst[p] = volume.Label(best)
	}
	return nil
}

func isNaN(f float32) bool {
	return math.IsNaN(float64(f))
}
