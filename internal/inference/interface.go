// internal/inference/interface.go
package inference

import (
	"context"
	"fmt"
)

// Mode selects how a backend executes a forward pass.
type Mode int

const (
	// ModeInference disables training-only behavior such as dropout.
	ModeInference Mode = iota
	// ModeTraining enables training-only behavior. The agent never uses it.
	ModeTraining
)

func (m Mode) String() string {
	switch m {
	case ModeInference:
		return "inference"
	case ModeTraining:
		return "training"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Tensor is a dense float32 array in host memory, row-major.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor checks that data fills shape exactly.
func NewTensor(shape []int64, data []float32) (Tensor, error) {
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("invalid tensor dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	if int64(len(data)) != n {
		return Tensor{}, fmt.Errorf("tensor data has wrong size: got %d, expected %d for shape %v", len(data), n, shape)
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// DeviceTensor is a tensor resident on a backend's execution target.
type DeviceTensor interface {
	Shape() []int64
	// Release frees the device memory. The tensor must not be used afterwards.
	Release() error
}

// Backend executes a 2D segmentation network on some execution target.
// A forward pass takes a [1, 1, H, W] input and yields per-class scores
// shaped [1, C, H, W] or [C, H, W].
type Backend interface {
	// ToDevice copies a host tensor onto the execution target.
	ToDevice(t Tensor) (DeviceTensor, error)

	// Forward runs the network in the given mode.
	Forward(ctx context.Context, in DeviceTensor, mode Mode) (DeviceTensor, error)

	// ToHost copies a device tensor back into host memory.
	ToHost(t DeviceTensor) (Tensor, error)

	// NumClasses is the number of score channels the network produces.
	NumClasses() int

	// ModelID identifies the loaded weights. Two backends with the same ID
	// produce the same scores for the same input.
	ModelID() string

	// Close releases any resources held by the backend.
	Close() error
}
