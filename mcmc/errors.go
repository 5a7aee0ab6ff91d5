package mcmc

import (
	"errors"
)

var (
	// ErrNumericDegeneracy reports a zero normalization term in the
	// delayed-rejection recursion. It can only happen if an earlier stage
	// with acceptance probability one was rejected, which the stage loop
	// makes structurally impossible; it therefore signals an internal
	// invariant violation and is fatal.
	ErrNumericDegeneracy = errors.New("numeric degeneracy in delayed rejection recursion")

	// ErrModelEvaluation reports a NaN or otherwise invalid value returned
	// by a model-evaluation collaborator. Model errors indicate user-code
	// bugs, not transient conditions; the step is not retried.
	ErrModelEvaluation = errors.New("model evaluation failure")

	// ErrUnsupportedConfiguration reports a malformed proposal factor or an
	// invalid acceptance-ratio setup. It is detected before any random draw
	// is consumed, so a failed configuration never perturbs the stream.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
)
