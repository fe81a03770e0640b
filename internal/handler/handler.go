// internal/handler/handler.go
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyedDaiam9101/volseg-service/internal/cache"
	"github.com/SyedDaiam9101/volseg-service/internal/inference"
	"github.com/SyedDaiam9101/volseg-service/internal/metrics"
	"github.com/SyedDaiam9101/volseg-service/internal/middleware"
	"github.com/SyedDaiam9101/volseg-service/internal/store"
	"github.com/SyedDaiam9101/volseg-service/internal/volume"
	pb "github.com/SyedDaiam9101/volseg-service/proto/segmentpb"
)

// Handler implements the SegmentationServer interface.
// Each volume is segmented by one agent reserved from the pool; the mask cache
// and run log are optional and may be nil.
type Handler struct {
	pb.UnimplementedSegmentationServer
	agents   *inference.Pool
	cache    *cache.Cache
	runs     *store.Store
	cacheTTL time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Options holds the optional collaborators of a Handler.
type Options struct {
	Cache    *cache.Cache
	Runs     *store.Store
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// New creates a new Handler over the given agent pool.
func New(agents *inference.Pool, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Handler{
		agents:   agents,
		cache:    opts.Cache,
		runs:     opts.Runs,
		cacheTTL: ttl,
		logger:   logger,
		tracer:   otel.Tracer("volseg/handler"),
	}
}

// Segment handles a single volume by delegating to BatchSegment
func (h *Handler) Segment(ctx context.Context, req *pb.SegmentRequest) (*pb.SegmentResponse, error) {
	if req == nil {
		return nil, invalidArgumentError("request cannot be nil")
	}

	batchResp, err := h.BatchSegment(ctx, &pb.BatchSegmentRequest{
		Requests: []*pb.SegmentRequest{req},
	})
	if err != nil {
		return nil, err
	}

	if len(batchResp.Responses) == 0 {
		return nil, internalError("no response from batch segment")
	}

	return batchResp.Responses[0], nil
}

// BatchSegment segments every volume of the batch, at most one per pooled agent
// at a time. Responses are returned in request order.
func (h *Handler) BatchSegment(ctx context.Context, req *pb.BatchSegmentRequest) (*pb.BatchSegmentResponse, error) {
	start := time.Now()
	logger := middleware.Logger(ctx, h.logger)

	if req == nil || len(req.Requests) == 0 {
		return nil, invalidArgumentError("batch request cannot be nil or empty")
	}

	if h.agents == nil {
		return nil, failedPreconditionError("inference agents not initialized")
	}

	ref := h.agents.Agent()
	volumes := make([]*volume.Volume, len(req.Requests))
	references := make([]*volume.Mask, len(req.Requests))
	for i, r := range req.Requests {
		v, err := toVolume(i, r)
		if err != nil {
			return nil, err
		}
		volumes[i] = v
		if references[i], err = toReference(i, r, v.Depth, ref.PatchSize(), ref.NumClasses()); err != nil {
			return nil, err
		}
	}

	batchSize := len(req.Requests)
	metrics.RecordBatch(batchSize)

	ctx, span := h.tracer.Start(ctx, "Handler.BatchSegment",
		trace.WithAttributes(attribute.Int("batch.size", batchSize)))
	defer span.End()

	workers := h.agents.Size()
	if batchSize < workers {
		workers = batchSize
	}

	responses := make([]*pb.SegmentResponse, batchSize)
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx).WithCancelOnError().WithFirstError()
	for i := range req.Requests {
		p.Go(func(ctx context.Context) error {
			resp, err := h.segmentOne(ctx, req.Requests[i], volumes[i], references[i])
			if err != nil {
				return fmt.Errorf("volume %d: %w", i, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		span.RecordError(err)
		logger.Error("segmentation failed", "batch_size", batchSize, "err", err)
		return nil, grpcError(err)
	}

	cached := 0
	for _, r := range responses {
		if r.Cached {
			cached++
		}
	}
	logger.Info("BatchSegment",
		"batch_size", batchSize,
		"cached", cached,
		"total_ms", float64(time.Since(start).Microseconds())/1000.0)

	return &pb.BatchSegmentResponse{
		Responses: responses,
	}, nil
}

// toVolume validates one request and copies its volume out of the wire message.
func toVolume(i int, r *pb.SegmentRequest) (*volume.Volume, error) {
	if r == nil {
		return nil, invalidArgumentError("request %d is nil", i)
	}
	if r.Volume == nil {
		return nil, invalidArgumentError("request %d has nil volume", i)
	}

	d, ht, w := r.Volume.Depth, r.Volume.Height, r.Volume.Width
	if d <= 0 || ht <= 0 || w <= 0 {
		return nil, invalidArgumentError("invalid volume dimensions: depth=%d, height=%d, width=%d", d, ht, w)
	}

	expectedLen := int64(d) * int64(ht) * int64(w)
	if int64(len(r.Volume.Data)) != expectedLen {
		return nil, invalidArgumentError(
			"volume %d has wrong data length: got %d, expected %d",
			i, len(r.Volume.Data), expectedLen)
	}

	v, err := volume.FromData(int(d), int(ht), int(w), r.Volume.Data)
	if err != nil {
		return nil, invalidArgumentError("volume %d: %v", i, err)
	}
	return v, nil
}

// toReference validates the optional reference mask of one request. The
// response mask is always [depth, patch, patch], so the reference must be too.
func toReference(i int, r *pb.SegmentRequest, depth, patch, numClasses int) (*volume.Mask, error) {
	if r.Reference == nil {
		return nil, nil
	}

	shape := volume.Shape{Depth: depth, Height: patch, Width: patch}
	if len(r.Reference) != shape.Voxels() {
		return nil, invalidArgumentError(
			"request %d reference has %d labels, expected %d for mask %s",
			i, len(r.Reference), shape.Voxels(), shape)
	}
	for j, l := range r.Reference {
		if int(l) >= numClasses {
			return nil, invalidArgumentError(
				"request %d reference label %d at voxel %d exceeds %d classes", i, l, j, numClasses)
		}
	}

	m := volume.NewMask(shape)
	copy(m.Labels, r.Reference)
	return m, nil
}

// overlapScores returns per-class Dice and Jaccard coefficients of mask against ref.
func overlapScores(mask, ref *volume.Mask, numClasses int) (dice, jaccard []float64, err error) {
	dice = make([]float64, numClasses)
	jaccard = make([]float64, numClasses)
	for c := 0; c < numClasses; c++ {
		if dice[c], err = volume.Dice(mask, ref, volume.Label(c)); err != nil {
			return nil, nil, err
		}
		if jaccard[c], err = volume.Jaccard(mask, ref, volume.Label(c)); err != nil {
			return nil, nil, err
		}
	}
	return dice, jaccard, nil
}

// cacheKey names the mask the pool's model would produce for v.
func (h *Handler) cacheKey(v *volume.Volume, conform bool) string {
	ref := h.agents.Agent()
	return cache.Key(v, cache.KeyParams{
		ModelID:    ref.ModelID(),
		PatchSize:  ref.PatchSize(),
		NumClasses: ref.NumClasses(),
		Policy:     string(ref.Policy()),
		Conform:    conform,
	})
}

// segmentOne serves one volume from the cache or an agent, then logs the run.
func (h *Handler) segmentOne(ctx context.Context, req *pb.SegmentRequest, v *volume.Volume, reference *volume.Mask) (*pb.SegmentResponse, error) {
	logger := middleware.Logger(ctx, h.logger)
	conform := !req.Conformed

	ref := h.agents.Agent()
	key := h.cacheKey(v, conform)

	var (
		mask       *volume.Mask
		degenerate []int
		elapsed    time.Duration
		cached     bool
	)

	if h.cache != nil {
		entry, found, err := h.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.RecordCacheResult("error")
			logger.Warn("mask cache read failed", "err", err)
		case found:
			if m, err := entry.Mask(); err == nil {
				metrics.RecordCacheResult("hit")
				mask, degenerate, cached = m, entry.DegenerateSlices, true
				elapsed = time.Duration(entry.InferenceMs * float64(time.Millisecond))
			} else {
				metrics.RecordCacheResult("error")
				logger.Warn("discarding cached mask", "err", err)
			}
		default:
			metrics.RecordCacheResult("miss")
		}
	}

	if mask == nil {
		var res *inference.Result
		err := h.agents.Do(ctx, func(a *inference.Agent) error {
			var err error
			res, err = a.Run(ctx, v, conform)
			return err
		})
		if err != nil {
			return nil, err
		}
		mask, degenerate, elapsed = res.Mask, res.DegenerateSlices, res.Elapsed

		if h.cache != nil {
			if err := h.cache.Set(ctx, key, cache.NewEntry(mask, degenerate, elapsed), h.cacheTTL); err != nil {
				logger.Warn("mask cache write failed", "err", err)
			}
		}
	}

	counts := volume.LabelCounts(mask, ref.NumClasses())

	var dice, jaccard []float64
	if reference != nil {
		var err error
		if dice, jaccard, err = overlapScores(mask, reference, ref.NumClasses()); err != nil {
			return nil, err
		}
	}
	run := store.Run{
		ID:               uuid.New().String(),
		VolumeID:         req.VolumeId,
		Depth:            mask.Depth,
		Height:           mask.Height,
		Width:            mask.Width,
		PatchSize:        ref.PatchSize(),
		Conformed:        req.Conformed,
		LabelCounts:      counts,
		DegenerateSlices: len(degenerate),
		Cached:           cached,
		Duration:         elapsed,
	}
	if h.runs != nil {
		if err := h.runs.Record(ctx, run); err != nil {
			logger.Warn("run log write failed", "run_id", run.ID, "err", err)
		}
	}
	logger.Debug("volume segmented",
		"run_id", run.ID,
		"volume_id", req.VolumeId,
		"cached", cached,
		"foreground_voxels", volume.ForegroundVoxels(mask),
		"class_fractions", volume.Fractions(counts),
		"dice", dice)

	return &pb.SegmentResponse{
		RunId:            run.ID,
		VolumeId:         req.VolumeId,
		Depth:            int32(mask.Depth),
		Height:           int32(mask.Height),
		Width:            int32(mask.Width),
		Labels:           mask.Labels,
		LabelCounts:      toInt64s(counts),
		DegenerateSlices: toInt32s(degenerate),
		Cached:           cached,
		InferenceMs:      float64(elapsed.Microseconds()) / 1000.0,
		Dice:             dice,
		Jaccard:          jaccard,
	}, nil
}

// GetRun returns one run log entry.
func (h *Handler) GetRun(ctx context.Context, req *pb.GetRunRequest) (*pb.Run, error) {
	if h.runs == nil {
		return nil, failedPreconditionError("run log not configured")
	}
	if req == nil || req.RunId == "" {
		return nil, invalidArgumentError("run_id is required")
	}

	r, err := h.runs.Get(ctx, req.RunId)
	if err != nil {
		return nil, grpcError(err)
	}
	return toRunMessage(r), nil
}

// ListRuns pages the run log, newest first.
func (h *Handler) ListRuns(ctx context.Context, req *pb.ListRunsRequest) (*pb.ListRunsResponse, error) {
	if h.runs == nil {
		return nil, failedPreconditionError("run log not configured")
	}

	limit := 0
	if req != nil {
		limit = int(req.Limit)
	}
	if limit < 0 {
		return nil, invalidArgumentError("limit must not be negative, got %d", limit)
	}

	runs, err := h.runs.List(ctx, limit)
	if err != nil {
		return nil, grpcError(err)
	}

	out := make([]*pb.Run, len(runs))
	for i, r := range runs {
		out[i] = toRunMessage(r)
	}
	return &pb.ListRunsResponse{Runs: out}, nil
}

func toRunMessage(r store.Run) *pb.Run {
	return &pb.Run{
		RunId:            r.ID,
		VolumeId:         r.VolumeID,
		Depth:            int32(r.Depth),
		Height:           int32(r.Height),
		Width:            int32(r.Width),
		PatchSize:        int32(r.PatchSize),
		Conformed:        r.Conformed,
		LabelCounts:      toInt64s(r.LabelCounts),
		DegenerateSlices: int32(r.DegenerateSlices),
		Cached:           r.Cached,
		DurationMs:       float64(r.Duration.Microseconds()) / 1000.0,
		CreatedAtUnixMs:  r.CreatedAt.UnixMilli(),
	}
}

func toInt64s(xs []int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}

func toInt32s(xs []int) []int32 {
	if len(xs) == 0 {
		return nil
	}
	out := make([]int32, len(xs))
	for i, x := range xs {
		out[i] = int32(x)
	}
	return out
}
