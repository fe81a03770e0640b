// internal/inference/inference.go
package inference

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/crypto/blake2b"
)

// ONNXOptions configures how an ONNX segmentation network is loaded.
type ONNXOptions struct {
	// Device is "cpu", "cuda" or "cuda:N".
	Device string
	// LibraryPath points at the onnxruntime shared library. Empty uses the platform default.
	LibraryPath string
	InputName   string
	OutputName  string
	NumClasses  int
	// PatchSize is checked against fixed spatial dimensions declared by the model.
	PatchSize int
}

// ONNXBackend wraps an ONNX runtime session for thread-safe slice inference.
// It implements the Backend interface.
type ONNXBackend struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputShape []int64
	numClasses int64
	modelID    string
}

var (
	envMu   sync.Mutex
	envRefs int
)

// acquireEnvironment initializes the process-wide ONNX runtime on first use.
func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

// releaseEnvironment tears the runtime down once the last backend is closed.
func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// NewONNXBackend loads the network at modelPath and binds it to opts.Device.
// Every failure is reported as a *ModelLoadError.
func NewONNXBackend(modelPath string, opts ONNXOptions) (*ONNXBackend, error) {
	fail := func(err error) (*ONNXBackend, error) {
		return nil, &ModelLoadError{Path: modelPath, Err: err}
	}

	if modelPath == "" {
		return fail(errors.New("parameter path is required"))
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fail(err)
	}
	if opts.InputName == "" || opts.OutputName == "" {
		return fail(errors.New("input and output names are required"))
	}
	if opts.NumClasses < 1 {
		return fail(fmt.Errorf("invalid class count %d", opts.NumClasses))
	}

	modelID, err := modelFingerprint(modelPath)
	if err != nil {
		return fail(err)
	}

	if err := acquireEnvironment(opts.LibraryPath); err != nil {
		return fail(err)
	}

	inputShape, err := checkModelShapes(modelPath, opts)
	if err != nil {
		_ = releaseEnvironment()
		return fail(err)
	}

	sessionOpts, err := sessionOptions(opts.Device)
	if err != nil {
		_ = releaseEnvironment()
		return fail(err)
	}
	if sessionOpts != nil {
		defer sessionOpts.Destroy()
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{opts.InputName},
		[]string{opts.OutputName},
		sessionOpts,
	)
	if err != nil {
		_ = releaseEnvironment()
		return fail(fmt.Errorf("failed to create ONNX session: %w", err))
	}

	return &ONNXBackend{
		session:    session,
		inputShape: inputShape,
		numClasses: int64(opts.NumClasses),
		modelID:    modelID,
	}, nil
}

// modelFingerprint is the hex blake2b-256 digest of the model file.
func modelFingerprint(modelPath string) (string, error) {
	f, err := os.Open(modelPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash model: %w", err)
	}
	return "onnx:" + hex.EncodeToString(h.Sum(nil)), nil
}

// checkModelShapes compares the declared input/output dimensions with the
// configuration and returns the expected input shape (-1 for dynamic axes).
func checkModelShapes(modelPath string, opts ONNXOptions) ([]int64, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model metadata: %w", err)
	}

	in, ok := findInfo(inputs, opts.InputName)
	if !ok {
		return nil, fmt.Errorf("model has no input named %q", opts.InputName)
	}
	out, ok := findInfo(outputs, opts.OutputName)
	if !ok {
		return nil, fmt.Errorf("model has no output named %q", opts.OutputName)
	}

	patch := int64(opts.PatchSize)
	if patch <= 0 {
		patch = -1
	}

	inDims := []int64(in.Dimensions)
	if len(inDims) != 4 {
		return nil, fmt.Errorf("input %q must be 4D [N,1,H,W], model declares %v", in.Name, inDims)
	}
	expected := []int64{-1, 1, patch, patch}
	if !dimsCompatible(expected, inDims) {
		return nil, fmt.Errorf("input %q declares %v, expected %v", in.Name, inDims, expected)
	}

	outDims := []int64(out.Dimensions)
	if len(outDims) != 4 || !dimsCompatible([]int64{-1, int64(opts.NumClasses), -1, -1}, outDims) {
		return nil, fmt.Errorf("output %q declares %v, expected [N,%d,H,W]", out.Name, outDims, opts.NumClasses)
	}

	shape := make([]int64, 4)
	for i, d := range inDims {
		if d <= 0 {
			d = -1
		}
		shape[i] = d
	}
	shape[0] = 1
	return shape, nil
}

func findInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return ort.InputOutputInfo{}, false
}

// dimsCompatible treats non-positive extents on either side as dynamic.
func dimsCompatible(want, got []int64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] > 0 && got[i] > 0 && want[i] != got[i] {
			return false
		}
	}
	return true
}

// sessionOptions maps a device identifier to ONNX execution providers.
// A nil result selects the default CPU provider.
func sessionOptions(device string) (*ort.SessionOptions, error) {
	kind, id, _ := strings.Cut(strings.ToLower(strings.TrimSpace(device)), ":")
	switch kind {
	case "", "cpu":
		return nil, nil
	case "cuda", "gpu":
		if id == "" {
			id = "0"
		}
		opts, err := ort.NewSessionOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": id}); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("invalid CUDA device %q: %w", device, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
		return opts, nil
	default:
		return nil, fmt.Errorf("unsupported device %q", device)
	}
}

// onnxTensor is a float32 tensor owned by the ONNX runtime.
type onnxTensor struct {
	t *ort.Tensor[float32]
}

func (o *onnxTensor) Shape() []int64 { return []int64(o.t.GetShape()) }

func (o *onnxTensor) Release() error { return o.t.Destroy() }

// ToDevice copies t into an ONNX runtime tensor.
func (b *ONNXBackend) ToDevice(t Tensor) (DeviceTensor, error) {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)

	tensor, err := ort.NewTensor(ort.NewShape(t.Shape...), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	return &onnxTensor{t: tensor}, nil
}

// Forward runs the session on a [1, 1, H, W] input.
// ONNX graphs are exported for inference only, so ModeTraining is rejected.
func (b *ONNXBackend) Forward(ctx context.Context, in DeviceTensor, mode Mode) (DeviceTensor, error) {
	if mode != ModeInference {
		return nil, fmt.Errorf("ONNX backend does not support %s mode", mode)
	}
	input, ok := in.(*onnxTensor)
	if !ok {
		return nil, fmt.Errorf("input tensor %T was not created by the ONNX backend", in)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shape := input.Shape()
	if !shapeMatches(b.inputShape, shape) {
		return nil, &ShapeMismatchError{Expected: b.inputShape, Got: shape}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(shape[0], b.numClasses, shape[2], shape[3]))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	err = b.session.Run(
		[]ort.ArbitraryTensor{input.t},
		[]ort.ArbitraryTensor{output},
	)
	if err != nil {
		_ = output.Destroy()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return &onnxTensor{t: output}, nil
}

// ToHost copies the runtime tensor's data into a host Tensor.
func (b *ONNXBackend) ToHost(t DeviceTensor) (Tensor, error) {
	o, ok := t.(*onnxTensor)
	if !ok {
		return Tensor{}, fmt.Errorf("tensor %T was not created by the ONNX backend", t)
	}
	src := o.t.GetData()
	data := make([]float32, len(src))
	copy(data, src)
	return Tensor{Shape: o.Shape(), Data: data}, nil
}

// NumClasses returns the configured class count.
func (b *ONNXBackend) NumClasses() int {
	return int(b.numClasses)
}

// ModelID returns the blake2b fingerprint of the loaded model file.
func (b *ONNXBackend) ModelID() string {
	return b.modelID
}

// Close releases the ONNX session resources
func (b *ONNXBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}

	return releaseEnvironment()
}

// Ensure ONNXBackend implements Backend at compile time
var _ Backend = (*ONNXBackend)(nil)
