package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"deepscan/internal/ensemble"
	"deepscan/internal/media"
	"deepscan/internal/services"
)

// errNoFrames reports a reference that decoded to zero frames.
var errNoFrames = errors.New("no frames extracted")

// tag maps a component error onto the services taxonomy. Errors that are
// already tagged pass through unchanged.
func tag(stage Stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	if services.Classify(err) != services.KindUnknown {
		return err
	}
	marker := services.ErrTransient
	var (
		permanent *ensemble.PermanentExtractorError
		failure   *ensemble.ExtractorFailure
	)
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		marker = services.ErrTimeout
	case errors.Is(err, media.ErrUnreadableMedia), errors.Is(err, errNoFrames):
		marker = services.ErrValidation
	case errors.As(err, &permanent):
		marker = services.ErrPermanentExtractor
	case errors.As(err, &failure):
		marker = services.ErrTransient
	}
	return services.Wrap(marker, stage.Name, operation, "", err)
}

// shutdown reports whether err stems from the worker being stopped rather
// than from the job itself.
func shutdown(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) && errors.Is(context.Cause(ctx), context.Canceled)
}

// interrupted attributes err to ctx's cancellation when ctx ended first,
// so a reader torn down by a deadline or shutdown is not taken for bad
// media.
func interrupted(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	if ctxErr == nil || errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %w", context.Cause(ctx), err)
}
