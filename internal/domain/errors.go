package domain

import "errors"

// ErrInvalidConfig indicates a simulation configuration that fails validation
// before any run starts. Always wrapped with detail about the offending field.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrUnsupportedVersion indicates a persisted payload whose schema version
// is newer than this binary understands.
var ErrUnsupportedVersion = errors.New("unsupported payload version")
