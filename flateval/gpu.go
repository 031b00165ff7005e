package flateval

import "errors"

// ComputeConfig configures the GPU compute evaluators.
type ComputeConfig struct {
	// InvocX is the local work group size in X of the compute program.
	InvocX int
}

// DefaultComputeConfig returns a ComputeConfig that works on most desktop GPUs.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{InvocX: 32}
}

// Validate checks the configuration is usable.
func (cfg ComputeConfig) Validate() error {
	if cfg.InvocX <= 0 {
		return errors.New("invalid compute InvocX")
	}
	return nil
}
