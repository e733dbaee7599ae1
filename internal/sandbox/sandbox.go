// Package sandbox runs model-generated Python in a remote code interpreter.
package sandbox

import (
	"context"
	"errors"
)

var (
	// ErrMissingCredentials is returned when no sandbox API key is configured
	ErrMissingCredentials = errors.New("sandbox API key is not set")
	// ErrPoolClosed is returned by Acquire after Close
	ErrPoolClosed = errors.New("sandbox pool is closed")
)

// Execution is the outcome of running one piece of source. Error is set when
// the code itself failed (exception, non-zero exit).
type Execution struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// Executor runs source text. Implementations accept one submission at a time.
type Executor interface {
	Run(ctx context.Context, source string) (Execution, error)
}

// Instance is a live sandbox that must be closed when no longer needed
type Instance interface {
	Executor
	ID() string
	Close(ctx context.Context) error
}

// Provider creates sandbox instances
type Provider interface {
	Create(ctx context.Context) (Instance, error)
}
