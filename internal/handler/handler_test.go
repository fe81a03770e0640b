// internal/handler/handler_test.go
package handler

import (
	"context"
	"math"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SyedDaiam9101/volseg-service/internal/inference"
	"github.com/SyedDaiam9101/volseg-service/internal/logging"
	"github.com/SyedDaiam9101/volseg-service/internal/middleware"
	"github.com/SyedDaiam9101/volseg-service/internal/store"
	pb "github.com/SyedDaiam9101/volseg-service/proto/segmentpb"
)

const testPatch = 4

// newTestPool builds a pool of mock agents with a small patch size.
func newTestPool(t *testing.T, workers int, opts ...inference.Option) (*inference.Pool, []*inference.MockBackend) {
	t.Helper()

	var (
		agents   []*inference.Agent
		backends []*inference.MockBackend
	)
	for i := 0; i < workers; i++ {
		backend := inference.NewMock()
		backend.PatchSize = testPatch
		agentOpts := append([]inference.Option{
			inference.WithPatchSize(testPatch),
			inference.WithLogger(logging.Discard()),
		}, opts...)
		a, err := inference.NewAgent(backend, agentOpts...)
		if err != nil {
			t.Fatalf("Failed to create agent: %v", err)
		}
		agents = append(agents, a)
		backends = append(backends, backend)
	}

	p, err := inference.NewPool(agents...)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	return p, backends
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to open run log: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// conformedVolume is a [2, 4, 4] volume: slice 0 is uniform, slice 1 has
// a left half at 0 and a right half at 2.
func conformedVolume() *pb.Volume {
	data := make([]float64, 2*testPatch*testPatch)
	for i := 0; i < testPatch*testPatch; i++ {
		data[i] = 5
	}
	for h := 0; h < testPatch; h++ {
		for w := testPatch / 2; w < testPatch; w++ {
			data[testPatch*testPatch+h*testPatch+w] = 2
		}
	}
	return &pb.Volume{Depth: 2, Height: testPatch, Width: testPatch, Data: data}
}

func rampVolume(depth, height, width int32) *pb.Volume {
	data := make([]float64, depth*height*width)
	for i := range data {
		data[i] = float64(i%7) + 1
	}
	return &pb.Volume{Depth: depth, Height: height, Width: width, Data: data}
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("Expected gRPC status error, got: %v", err)
	}
	if st.Code() != want {
		t.Errorf("Expected %v, got: %v (%s)", want, st.Code(), st.Message())
	}
}

func TestSegmentWithNilPool(t *testing.T) {
	h := New(nil, Options{Logger: logging.Discard()})

	_, err := h.Segment(context.Background(), &pb.SegmentRequest{Volume: conformedVolume()})
	assertCode(t, err, codes.FailedPrecondition)
}

func TestSegmentWithNilRequest(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.Segment(context.Background(), nil)
	assertCode(t, err, codes.InvalidArgument)
}

func TestSegmentConformedVolume(t *testing.T) {
	p, backends := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	resp, err := h.Segment(context.Background(), &pb.SegmentRequest{
		VolumeId:  "case-001",
		Volume:    conformedVolume(),
		Conformed: true,
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if resp.Depth != 2 || resp.Height != testPatch || resp.Width != testPatch {
		t.Fatalf("Expected mask [2,%d,%d], got [%d,%d,%d]", testPatch, testPatch, resp.Depth, resp.Height, resp.Width)
	}
	if len(resp.Labels) != 2*testPatch*testPatch {
		t.Fatalf("Expected %d labels, got %d", 2*testPatch*testPatch, len(resp.Labels))
	}

	// Slice 0 normalizes to 1 everywhere: last class
	for i := 0; i < testPatch*testPatch; i++ {
		if resp.Labels[i] != 2 {
			t.Fatalf("Slice 0 voxel %d: expected label 2, got %d", i, resp.Labels[i])
		}
	}
	// Slice 1: left half background, right half last class
	off := testPatch * testPatch
	if resp.Labels[off] != 0 || resp.Labels[off+testPatch-1] != 2 {
		t.Errorf("Slice 1 row 0: expected labels 0..2, got %v", resp.Labels[off:off+testPatch])
	}

	want := []int64{8, 0, 24}
	for c, n := range want {
		if resp.LabelCounts[c] != n {
			t.Errorf("Expected label counts %v, got %v", want, resp.LabelCounts)
			break
		}
	}

	if resp.RunId == "" {
		t.Error("Expected a run id")
	}
	if resp.VolumeId != "case-001" {
		t.Errorf("Expected volume id case-001, got %s", resp.VolumeId)
	}
	if resp.Cached {
		t.Error("Expected uncached response without a cache")
	}
	if backends[0].Calls() != 2 {
		t.Errorf("Expected one forward pass per slice, got %d", backends[0].Calls())
	}
}

func TestSegmentUnconformedVolumeIsPaddedAndCropped(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	resp, err := h.Segment(context.Background(), &pb.SegmentRequest{Volume: rampVolume(3, 3, 6)})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	if resp.Depth != 3 || resp.Height != testPatch || resp.Width != testPatch {
		t.Errorf("Expected mask [3,%d,%d], got [%d,%d,%d]", testPatch, testPatch, resp.Depth, resp.Height, resp.Width)
	}

	var total int64
	for _, n := range resp.LabelCounts {
		total += n
	}
	if total != 3*testPatch*testPatch {
		t.Errorf("Expected label counts to cover %d voxels, got %d", 3*testPatch*testPatch, total)
	}
}

func TestSegmentConformedFlagWithWrongShape(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.Segment(context.Background(), &pb.SegmentRequest{
		Volume:    rampVolume(1, 3, 3),
		Conformed: true,
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestBatchSegmentWithMockPool(t *testing.T) {
	p, _ := newTestPool(t, 2)
	h := New(p, Options{Logger: logging.Discard()})

	depths := []int32{1, 2, 3, 4, 5}
	req := &pb.BatchSegmentRequest{}
	for _, d := range depths {
		req.Requests = append(req.Requests, &pb.SegmentRequest{Volume: rampVolume(d, 5, 3)})
	}

	resp, err := h.BatchSegment(context.Background(), req)
	if err != nil {
		t.Fatalf("BatchSegment failed: %v", err)
	}

	if len(resp.Responses) != len(depths) {
		t.Fatalf("Expected %d responses, got %d", len(depths), len(resp.Responses))
	}

	// Responses must follow request order
	for i, r := range resp.Responses {
		if r.Depth != depths[i] {
			t.Errorf("Response %d: expected depth %d, got %d", i, depths[i], r.Depth)
		}
	}
}

func TestBatchSegmentWithEmptyRequests(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.BatchSegment(context.Background(), &pb.BatchSegmentRequest{})
	assertCode(t, err, codes.InvalidArgument)
}

func TestBatchSegmentWithNilVolume(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.BatchSegment(context.Background(), &pb.BatchSegmentRequest{
		Requests: []*pb.SegmentRequest{{Volume: conformedVolume(), Conformed: true}, {}},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestBatchSegmentWithInvalidDimensions(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.BatchSegment(context.Background(), &pb.BatchSegmentRequest{
		Requests: []*pb.SegmentRequest{{Volume: &pb.Volume{Depth: 0, Height: 4, Width: 4}}},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestBatchSegmentWithInvalidDataLength(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	v := rampVolume(2, 4, 4)
	v.Data = v.Data[:len(v.Data)-1]

	_, err := h.BatchSegment(context.Background(), &pb.BatchSegmentRequest{
		Requests: []*pb.SegmentRequest{{Volume: v}},
	})
	assertCode(t, err, codes.InvalidArgument)

	if !strings.Contains(err.Error(), "wrong data length") {
		t.Errorf("Expected data length error, got: %v", err)
	}
}

func TestBatchSegmentWithInferenceError(t *testing.T) {
	p, backends := newTestPool(t, 1)
	backends[0].SetError("device lost")
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.Segment(context.Background(), &pb.SegmentRequest{Volume: conformedVolume(), Conformed: true})
	assertCode(t, err, codes.Internal)

	if !strings.Contains(err.Error(), "device lost") {
		t.Errorf("Expected backend message in error, got: %v", err)
	}
}

func TestBatchSegmentDegenerateSliceErrorPolicy(t *testing.T) {
	p, _ := newTestPool(t, 1, inference.WithDegeneratePolicy(inference.PolicyError))
	h := New(p, Options{Logger: logging.Discard()})

	_, err := h.Segment(context.Background(), &pb.SegmentRequest{
		Volume: &pb.Volume{Depth: 1, Height: testPatch, Width: testPatch, Data: make([]float64, testPatch*testPatch)},
	})
	assertCode(t, err, codes.InvalidArgument)
}

func TestBatchSegmentReportsDegenerateSlices(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	v := conformedVolume()
	for i := 0; i < testPatch*testPatch; i++ {
		v.Data[i] = 0
	}

	resp, err := h.Segment(context.Background(), &pb.SegmentRequest{Volume: v, Conformed: true})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if len(resp.DegenerateSlices) != 1 || resp.DegenerateSlices[0] != 0 {
		t.Errorf("Expected degenerate slices [0], got %v", resp.DegenerateSlices)
	}
}

func TestBatchSegmentCancelledContext(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Segment(ctx, &pb.SegmentRequest{Volume: conformedVolume(), Conformed: true})
	assertCode(t, err, codes.Canceled)
}

func TestBatchSegmentWithRequestID(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	interceptor := middleware.UnaryRequestIDInterceptor(logging.Discard())
	md := metadata.Pairs(middleware.RequestIDHeader, "test-request-123")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	resp, err := interceptor(ctx, &pb.SegmentRequest{Volume: conformedVolume(), Conformed: true},
		&grpc.UnaryServerInfo{FullMethod: pb.Segmentation_Segment_FullMethodName},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			if id := middleware.GetRequestID(ctx); id != "test-request-123" {
				t.Errorf("Expected request ID test-request-123, got %s", id)
			}
			return h.Segment(ctx, req.(*pb.SegmentRequest))
		})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if resp.(*pb.SegmentResponse).RunId == "" {
		t.Error("Expected a run id")
	}
}

func TestRunLog(t *testing.T) {
	p, _ := newTestPool(t, 1)
	runs := newTestStore(t)
	h := New(p, Options{Runs: runs, Logger: logging.Discard()})
	ctx := context.Background()

	first, err := h.Segment(ctx, &pb.SegmentRequest{VolumeId: "a", Volume: conformedVolume(), Conformed: true})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if _, err := h.Segment(ctx, &pb.SegmentRequest{VolumeId: "b", Volume: rampVolume(3, 2, 2)}); err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	run, err := h.GetRun(ctx, &pb.GetRunRequest{RunId: first.RunId})
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.VolumeId != "a" || run.Depth != 2 || !run.Conformed || run.PatchSize != testPatch {
		t.Errorf("Unexpected run: %+v", run)
	}
	if len(run.LabelCounts) != len(first.LabelCounts) {
		t.Errorf("Expected label counts %v, got %v", first.LabelCounts, run.LabelCounts)
	}

	list, err := h.ListRuns(ctx, &pb.ListRunsRequest{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(list.Runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(list.Runs))
	}
	if list.Runs[0].VolumeId != "b" {
		t.Errorf("Expected newest run first, got %s", list.Runs[0].VolumeId)
	}

	limited, err := h.ListRuns(ctx, &pb.ListRunsRequest{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(limited.Runs) != 1 {
		t.Errorf("Expected 1 run with limit 1, got %d", len(limited.Runs))
	}
}

func TestGetRunErrors(t *testing.T) {
	p, _ := newTestPool(t, 1)

	_, err := New(p, Options{}).GetRun(context.Background(), &pb.GetRunRequest{RunId: "x"})
	assertCode(t, err, codes.FailedPrecondition)

	h := New(p, Options{Runs: newTestStore(t), Logger: logging.Discard()})

	_, err = h.GetRun(context.Background(), &pb.GetRunRequest{})
	assertCode(t, err, codes.InvalidArgument)

	_, err = h.GetRun(context.Background(), &pb.GetRunRequest{RunId: "does-not-exist"})
	assertCode(t, err, codes.NotFound)

	_, err = h.ListRuns(context.Background(), &pb.ListRunsRequest{Limit: -1})
	assertCode(t, err, codes.InvalidArgument)
}

func TestGRPCErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{&inference.ShapeMismatchError{Expected: []int64{1, 1, 4, 4}, Got: []int64{1, 1, 3, 3}}, codes.InvalidArgument},
		{&inference.DegenerateSliceError{Index: 2}, codes.InvalidArgument},
		{inference.ErrInvalidVolume, codes.InvalidArgument},
		{&inference.ModelLoadError{Path: "m.onnx"}, codes.FailedPrecondition},
		{store.ErrNotFound, codes.NotFound},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Unavailable, "busy"), codes.Unavailable},
	}

	for _, tt := range tests {
		assertCode(t, grpcError(tt.err), tt.want)
	}

	if grpcError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

// TestSegmentationOverGRPC drives the service through a real server and
// client over an in-memory listener with the json codec.
func TestSegmentationOverGRPC(t *testing.T) {
	p, _ := newTestPool(t, 2)
	h := New(p, Options{Runs: newTestStore(t), Logger: logging.Discard()})

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.UnaryRequestIDInterceptor(logging.Discard()),
		middleware.UnaryMetricsInterceptor(),
		middleware.UnaryLoggingInterceptor(logging.Discard()),
	))
	pb.RegisterSegmentationServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client := pb.NewSegmentationClient(conn)
	ctx := context.Background()

	var header metadata.MD
	resp, err := client.Segment(ctx, &pb.SegmentRequest{VolumeId: "wire", Volume: conformedVolume(), Conformed: true},
		grpc.Header(&header))
	if err != nil {
		t.Fatalf("Segment over gRPC failed: %v", err)
	}
	if len(resp.Labels) != 2*testPatch*testPatch {
		t.Errorf("Expected %d labels over the wire, got %d", 2*testPatch*testPatch, len(resp.Labels))
	}
	if len(header.Get(middleware.RequestIDHeader)) != 1 {
		t.Errorf("Expected request id response header, got %v", header)
	}

	run, err := client.GetRun(ctx, &pb.GetRunRequest{RunId: resp.RunId})
	if err != nil {
		t.Fatalf("GetRun over gRPC failed: %v", err)
	}
	if run.VolumeId != "wire" {
		t.Errorf("Expected volume id wire, got %s", run.VolumeId)
	}

	_, err = client.Segment(ctx, &pb.SegmentRequest{})
	assertCode(t, err, codes.InvalidArgument)
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	newHandler := func(id string, score inference.ScoreFunc) *Handler {
		backend := inference.NewMockWithScore(3, score)
		backend.ID = id
		a, err := inference.NewAgent(backend, inference.WithPatchSize(2), inference.WithLogger(logging.Discard()))
		if err != nil {
			t.Fatalf("Failed to create agent: %v", err)
		}
		p, err := inference.NewPool(a)
		if err != nil {
			t.Fatalf("Failed to create pool: %v", err)
		}
		return New(p, Options{Logger: logging.Discard()})
	}

	bands := newHandler("mock:bands", inference.BandScore)
	background := newHandler("mock:background", func(x float32, class, numClasses int) float32 {
		if class == 0 {
			return 1
		}
		return 0
	})

	req := &pb.SegmentRequest{
		Volume:    &pb.Volume{Depth: 1, Height: 2, Width: 2, Data: []float64{4, 0, 0, 0}},
		Conformed: true,
	}
	a, err := bands.Segment(context.Background(), req)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	b, err := background.Segment(context.Background(), req)
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if string(a.Labels) == string(b.Labels) {
		t.Fatalf("Expected the two models to disagree, both gave %v", a.Labels)
	}

	v, err := toVolume(0, req)
	if err != nil {
		t.Fatalf("toVolume failed: %v", err)
	}
	if bands.cacheKey(v, false) == background.cacheKey(v, false) {
		t.Error("Expected different models to use different cache keys")
	}
	if bands.cacheKey(v, false) != newHandler("mock:bands", inference.BandScore).cacheKey(v, false) {
		t.Error("Expected the same model to reuse its cache key")
	}
}

func TestSegmentWithReferenceMask(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	n := 2 * testPatch * testPatch
	allLast := make([]byte, n)
	for i := range allLast {
		allLast[i] = 2
	}

	resp, err := h.Segment(context.Background(), &pb.SegmentRequest{
		Volume:    conformedVolume(),
		Conformed: true,
		Reference: allLast,
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}

	// Prediction has 8 background and 24 last-class voxels; class 1 is absent from both
	wantDice := []float64{0, 1, 48.0 / 56.0}
	wantJaccard := []float64{0, 1, 24.0 / 32.0}
	if len(resp.Dice) != 3 || len(resp.Jaccard) != 3 {
		t.Fatalf("Expected 3 scores each, got dice=%v jaccard=%v", resp.Dice, resp.Jaccard)
	}
	for c := range wantDice {
		if math.Abs(resp.Dice[c]-wantDice[c]) > 1e-12 {
			t.Errorf("Class %d: expected dice %v, got %v", c, wantDice[c], resp.Dice[c])
		}
		if math.Abs(resp.Jaccard[c]-wantJaccard[c]) > 1e-12 {
			t.Errorf("Class %d: expected jaccard %v, got %v", c, wantJaccard[c], resp.Jaccard[c])
		}
	}

	// Scoring the prediction against itself is perfect
	self, err := h.Segment(context.Background(), &pb.SegmentRequest{
		Volume:    conformedVolume(),
		Conformed: true,
		Reference: resp.Labels,
	})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	for c, d := range self.Dice {
		if d != 1 || self.Jaccard[c] != 1 {
			t.Errorf("Class %d: expected perfect overlap, got dice=%v jaccard=%v", c, d, self.Jaccard[c])
		}
	}
}

func TestSegmentWithoutReferenceHasNoScores(t *testing.T) {
	p, _ := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	resp, err := h.Segment(context.Background(), &pb.SegmentRequest{Volume: conformedVolume(), Conformed: true})
	if err != nil {
		t.Fatalf("Segment failed: %v", err)
	}
	if resp.Dice != nil || resp.Jaccard != nil {
		t.Errorf("Expected no overlap scores, got dice=%v jaccard=%v", resp.Dice, resp.Jaccard)
	}
}

func TestSegmentWithInvalidReference(t *testing.T) {
	p, backends := newTestPool(t, 1)
	h := New(p, Options{Logger: logging.Discard()})

	n := 2 * testPatch * testPatch
	badLabel := make([]byte, n)
	badLabel[5] = 3

	tests := []struct {
		name      string
		volume    *pb.Volume
		conformed bool
		reference []byte
	}{
		{"too short", conformedVolume(), true, make([]byte, n-1)},
		{"input shape instead of mask shape", rampVolume(2, 3, 6), false, make([]byte, 2*3*6)},
		{"label out of range", conformedVolume(), true, badLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Segment(context.Background(), &pb.SegmentRequest{
				Volume:    tt.volume,
				Conformed: tt.conformed,
				Reference: tt.reference,
			})
			assertCode(t, err, codes.InvalidArgument)
		})
	}

	if backends[0].Calls() != 0 {
		t.Errorf("Expected invalid references to be rejected before inference, got %d forward passes", backends[0].Calls())
	}
}
