package pipeline

import (
	"context"

	"scene-studio/internal/models"
)

// RetryOnce wraps produce so a failed call is attempted exactly one more time.
// No retry happens once the item context is done.
func RetryOnce(produce ProduceFunc) ProduceFunc {
	return func(ctx context.Context, scene models.SceneDescriptor) (Result, error) {
		res, err := produce(ctx, scene)
		if err == nil || ctx.Err() != nil {
			return res, err
		}
		return produce(ctx, scene)
	}
}
