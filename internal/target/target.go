// Package target describes the hardware limits binding rules schedule for.
package target

import "fmt"

// DefaultMaxBlocks is the block-count ceiling used when binding loops to
// blockIdx.
const DefaultMaxBlocks = 256

// Target is a GPU code generation target.
type Target struct {
	Name       string `json:"name" yaml:"name"`
	MaxThreads int    `json:"max_threads" yaml:"max_threads"`
	MaxBlocks  int    `json:"max_blocks" yaml:"max_blocks"`
}

// DefaultNVGPU returns the default NVIDIA GPU target.
func DefaultNVGPU() Target {
	return Target{Name: "nvgpu", MaxThreads: 1024, MaxBlocks: DefaultMaxBlocks}
}

// Validate checks the limits are usable.
func (t Target) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("target: name is required")
	}
	if t.MaxThreads <= 0 {
		return fmt.Errorf("target %s: max_threads must be positive, got %d", t.Name, t.MaxThreads)
	}
	if t.MaxBlocks <= 0 {
		return fmt.Errorf("target %s: max_blocks must be positive, got %d", t.Name, t.MaxBlocks)
	}
	return nil
}

func (t Target) String() string {
	return fmt.Sprintf("%s(threads=%d, blocks=%d)", t.Name, t.MaxThreads, t.MaxBlocks)
}
