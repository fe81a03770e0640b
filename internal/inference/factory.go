// internal/inference/factory.go
package inference

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultConfig describes the default segmentation network and the agents built around it.
type DefaultConfig struct {
	ParameterPath string
	LibraryPath   string
	Device        string
	PatchSize     int
	NumClasses    int
	InputName     string
	OutputName    string
	Policy        DegeneratePolicy
	Logger        *slog.Logger
}

func (c DefaultConfig) withDefaults() DefaultConfig {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.PatchSize == 0 {
		c.PatchSize = DefaultPatchSize
	}
	if c.NumClasses == 0 {
		c.NumClasses = DefaultNumClasses
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.Policy == "" {
		c.Policy = PolicyZero
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func (c DefaultConfig) agentOptions() []Option {
	return []Option{
		WithPatchSize(c.PatchSize),
		WithDevice(c.Device),
		WithDegeneratePolicy(c.Policy),
		WithLogger(c.Logger),
	}
}

// NewDefaultAgent loads the default segmentation network from cfg.ParameterPath
// onto cfg.Device and wraps it in an Agent. Load failures are *ModelLoadError.
// Only composition roots should call this; everything else receives an Agent.
func NewDefaultAgent(cfg DefaultConfig) (*Agent, error) {
	cfg = cfg.withDefaults()

	backend, err := NewONNXBackend(cfg.ParameterPath, ONNXOptions{
		Device:      cfg.Device,
		LibraryPath: cfg.LibraryPath,
		InputName:   cfg.InputName,
		OutputName:  cfg.OutputName,
		NumClasses:  cfg.NumClasses,
		PatchSize:   cfg.PatchSize,
	})
	if err != nil {
		return nil, err
	}

	agent, err := NewAgent(backend, cfg.agentOptions()...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return agent, nil
}

// NewDefaultPool builds workers independent default agents, each with its own session.
func NewDefaultPool(cfg DefaultConfig, workers int) (*Pool, error) {
	return newPoolWith(workers, func() (*Agent, error) { return NewDefaultAgent(cfg) })
}

// NewMockPool builds workers agents over independent mock backends.
func NewMockPool(cfg DefaultConfig, workers int) (*Pool, error) {
	cfg = cfg.withDefaults()
	return newPoolWith(workers, func() (*Agent, error) {
		backend := NewMock()
		backend.Classes = cfg.NumClasses
		return NewAgent(backend, cfg.agentOptions()...)
	})
}

func newPoolWith(workers int, build func() (*Agent, error)) (*Pool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	agents := make([]*Agent, 0, workers)
	for i := 0; i < workers; i++ {
		a, err := build()
		if err != nil {
			var closeErrs []error
			for _, built := range agents {
				closeErrs = append(closeErrs, built.backend.Close())
			}
			return nil, errors.Join(append([]error{err}, closeErrs...)...)
		}
		agents = append(agents, a)
	}
	return NewPool(agents...)
}
