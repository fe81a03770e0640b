// Package segmentpb defines the volseg.v1.Segmentation gRPC service.
//
// Messages are plain Go structs carried by the "json" codec registered in
// codec.go; clients built with NewSegmentationClient select it automatically.
// descriptor.go registers a matching file descriptor for server reflection.
package segmentpb

// Volume is a [depth, height, width] intensity array in row-major order.
type Volume struct {
	Depth  int32     `json:"depth"`
	Height int32     `json:"height"`
	Width  int32     `json:"width"`
	Data   []float64 `json:"data"`
}

// SegmentRequest asks for one volume to be segmented.
type SegmentRequest struct {
	// VolumeId is an optional caller-side label recorded in the run log.
	VolumeId string  `json:"volume_id,omitempty"`
	Volume   *Volume `json:"volume"`
	// Conformed marks a volume whose slices already have the patch size.
	// Otherwise the volume is padded/cropped first.
	Conformed bool `json:"conformed,omitempty"`
	// Reference is an optional ground-truth mask with the shape of the
	// response mask. When set the response carries per-class overlap scores.
	Reference []byte `json:"reference,omitempty"`
}

// SegmentResponse carries the label mask of one volume.
type SegmentResponse struct {
	RunId    string `json:"run_id"`
	VolumeId string `json:"volume_id,omitempty"`
	Depth    int32  `json:"depth"`
	Height   int32  `json:"height"`
	Width    int32  `json:"width"`
	// Labels holds one class index per voxel, row-major.
	Labels           []byte  `json:"labels"`
	LabelCounts      []int64 `json:"label_counts"`
	DegenerateSlices []int32 `json:"degenerate_slices,omitempty"`
	Cached           bool    `json:"cached,omitempty"`
	InferenceMs      float64 `json:"inference_ms"`
	// Dice and Jaccard are indexed by class and set only when the request
	// carried a reference mask.
	Dice    []float64 `json:"dice,omitempty"`
	Jaccard []float64 `json:"jaccard,omitempty"`
}

// BatchSegmentRequest segments several volumes in one call.
type BatchSegmentRequest struct {
	Requests []*SegmentRequest `json:"requests"`
}

// BatchSegmentResponse holds responses in request order.
type BatchSegmentResponse struct {
	Responses []*SegmentResponse `json:"responses"`
}

// GetRunRequest looks up one run log entry.
type GetRunRequest struct {
	RunId string `json:"run_id"`
}

// ListRunsRequest pages the run log, newest first.
type ListRunsRequest struct {
	Limit int32 `json:"limit,omitempty"`
}

// Run is a run log entry.
type Run struct {
	RunId            string  `json:"run_id"`
	VolumeId         string  `json:"volume_id,omitempty"`
	Depth            int32   `json:"depth"`
	Height           int32   `json:"height"`
	Width            int32   `json:"width"`
	PatchSize        int32   `json:"patch_size"`
	Conformed        bool    `json:"conformed,omitempty"`
	LabelCounts      []int64 `json:"label_counts"`
	DegenerateSlices int32   `json:"degenerate_slices"`
	Cached           bool    `json:"cached,omitempty"`
	DurationMs       float64 `json:"duration_ms"`
	CreatedAtUnixMs  int64   `json:"created_at_unix_ms"`
}

// ListRunsResponse is a page of runs.
type ListRunsResponse struct {
	Runs []*Run `json:"runs"`
}
