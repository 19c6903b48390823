package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/tensor"
)

var (
	// ErrMalformedModel reports a model directory missing required parts.
	ErrMalformedModel = errors.New("malformed model")
	// ErrResource reports a missing or unreadable vocabulary or model artifact.
	ErrResource = errors.New("model resource unavailable")
	// ErrForward reports a failed forward call or a malformed engine output.
	ErrForward = errors.New("forward failed")
	// ErrImageFetch reports an image that could not be fetched or decoded.
	ErrImageFetch = errors.New("image fetch failed")
)

// safeForward runs m.Forward, turning engine panics into errors and checking
// that the expected number of non-nil outputs came back.
func safeForward(ctx context.Context, m backend.Module, want int, inputs ...*tensor.Tensor) (out []*tensor.Tensor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("%w: panic in Forward: %v", ErrForward, rec)
		}
	}()
	out, err = m.Forward(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForward, err)
	}
	if len(out) < want {
		return nil, fmt.Errorf("%w: %d outputs, want %d", ErrForward, len(out), want)
	}
	for i := range want {
		if out[i] == nil {
			return nil, fmt.Errorf("%w: output %d is nil", ErrForward, i)
		}
	}
	return out, nil
}
