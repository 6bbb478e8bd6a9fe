package pose

import (
	"context"
	"image"
)

// Options selects the detail level requested from the pose transform.
type Options struct {
	IncludeHands bool
	IncludeFace  bool
}

// Transformer is the boundary to the external pose-detection operation: an
// opaque, potentially slow call taking an image and returning an annotated
// image. It must be callable from many concurrent pipeline invocations;
// implementations that are not reentrant serialize internally.
type Transformer interface {
	Transform(ctx context.Context, img image.Image, opts Options) (image.Image, error)
}

// Loopback returns the input frame unchanged. It stands in for a real
// detector in development and tests.
type Loopback struct{}

func (Loopback) Transform(_ context.Context, img image.Image, _ Options) (image.Image, error) {
	return img, nil
}
