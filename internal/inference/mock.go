// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"
)

// ScoreFunc maps a normalized input intensity to the score of one class.
type ScoreFunc func(x float32, class, numClasses int) float32

// MockBackend is a mock implementation of Backend for testing.
// It scores each pixel independently without requiring the ONNX shared library.
type MockBackend struct {
	mu sync.Mutex

	// Classes is the number of score channels produced per pixel
	Classes int
	// Score computes per-class scores; nil uses BandScore
	Score ScoreFunc
	// PatchSize, when positive, is the only spatial extent Forward accepts
	PatchSize int
	// ID is returned by ModelID; empty reports MockModelID
	ID string
	// ShouldError if true, Forward will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Forward was called
	CallCount int
	// Modes records the mode of every Forward call
	Modes []Mode
	// Inputs records a copy of every Forward input
	Inputs [][]float32
	// Released counts device tensors released by callers
	Released int
	// Closed is set by Close
	Closed bool
}

// NewMock creates a MockBackend with DefaultNumClasses classes.
func NewMock() *MockBackend {
	return &MockBackend{Classes: DefaultNumClasses}
}

// NewMockWithScore creates a MockBackend with a custom scoring function.
func NewMockWithScore(classes int, score ScoreFunc) *MockBackend {
	return &MockBackend{Classes: classes, Score: score}
}

// BandScore prefers class k when x is closest to k/(numClasses-1), so
// intensity 0 maps to class 0 and intensity 1 to the last class.
func BandScore(x float32, class, numClasses int) float32 {
	if numClasses < 2 {
		return 0
	}
	center := float32(class) / float32(numClasses-1)
	d := x - center
	return -d * d
}

type mockTensor struct {
	owner *MockBackend
	shape []int64
	data  []float32
}

func (t *mockTensor) Shape() []int64 { return t.shape }

func (t *mockTensor) Release() error {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	t.owner.Released++
	return nil
}

// ToDevice copies t into a mock device tensor.
func (m *MockBackend) ToDevice(t Tensor) (DeviceTensor, error) {
	if _, err := NewTensor(t.Shape, t.Data); err != nil {
		return nil, err
	}
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &mockTensor{owner: m, shape: append([]int64(nil), t.Shape...), data: data}, nil
}

// Forward scores every pixel of a [1, 1, H, W] input, producing [1, C, H, W].
func (m *MockBackend) Forward(ctx context.Context, in DeviceTensor, mode Mode) (DeviceTensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.Modes = append(m.Modes, mode)

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%s", m.ErrorMessage)
		}
		return nil, fmt.Errorf("mock inference error")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, ok := in.(*mockTensor)
	if !ok {
		return nil, fmt.Errorf("input tensor %T was not created by the mock backend", in)
	}

	patch := int64(-1)
	if m.PatchSize > 0 {
		patch = int64(m.PatchSize)
	}
	expected := []int64{1, 1, patch, patch}
	if !shapeMatches(expected, t.shape) {
		return nil, &ShapeMismatchError{Expected: expected, Got: t.shape}
	}

	m.Inputs = append(m.Inputs, append([]float32(nil), t.data...))

	score := m.Score
	if score == nil {
		score = BandScore
	}

	plane := len(t.data)
	out := make([]float32, m.Classes*plane)
	for c := 0; c < m.Classes; c++ {
		for p, x := range t.data {
			out[c*plane+p] = score(x, c, m.Classes)
		}
	}

	return &mockTensor{
		owner: m,
		shape: []int64{1, int64(m.Classes), t.shape[2], t.shape[3]},
		data:  out,
	}, nil
}

// ToHost returns a copy of the mock tensor's data.
func (m *MockBackend) ToHost(t DeviceTensor) (Tensor, error) {
	mt, ok := t.(*mockTensor)
	if !ok {
		return Tensor{}, fmt.Errorf("tensor %T was not created by the mock backend", t)
	}
	data := make([]float32, len(mt.data))
	copy(data, mt.data)
	return Tensor{Shape: append([]int64(nil), mt.shape...), Data: data}, nil
}

// NumClasses returns Classes.
func (m *MockBackend) NumClasses() int {
	return m.Classes
}

// MockModelID is the model fingerprint of a mock without an explicit ID.
const MockModelID = "mock"

// ModelID returns ID, or MockModelID when unset.
func (m *MockBackend) ModelID() string {
	if m.ID != "" {
		return m.ID
	}
	return MockModelID
}

// Close marks the mock as closed
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetError configures the mock to return an error on the next Forward call
func (m *MockBackend) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockBackend) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns the number of Forward calls so far.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Ensure MockBackend implements Backend at compile time
var _ Backend = (*MockBackend)(nil)
