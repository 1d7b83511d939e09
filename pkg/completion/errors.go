package completion

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every missing or invalid provider setting
var ErrConfiguration = errors.New("completion provider not configured")

// ConfigError names the provider setting that is missing or invalid
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s is required", ErrConfiguration, e.Field)
}

// Is makes every ConfigError match ErrConfiguration
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}
