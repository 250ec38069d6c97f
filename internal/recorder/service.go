package recorder

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Service runs the capture loop until the context is cancelled.
type Service struct {
	ctrl *Controller
}

// NewService wraps a controller.
func NewService(ctrl *Controller) *Service {
	return &Service{ctrl: ctrl}
}

// Run ticks the controller until cancellation or a fatal error. Plain
// tick errors (transport hiccups, discovery failures) are logged and
// the loop continues; fatal ones stop it. In every exit path the sink
// is closed first so buffered entries reach disk.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Msg("Recorder started")

	for ctx.Err() == nil {
		err := s.ctrl.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Shutdown observed mid-tick; fall through to the flush.
		case IsFatal(err):
			log.Error().Err(err).Msg("Recorder stopping on unrecoverable error")
			if cerr := s.ctrl.CloseSink(); cerr != nil {
				log.Error().Err(cerr).Msg("Failed to flush on shutdown")
			}
			return err
		default:
			log.Error().Err(err).Msg("Tick failed")
		}
	}

	log.Info().Msg("Recorder stopping")
	if err := s.ctrl.CloseSink(); err != nil {
		log.Error().Err(err).Msg("Failed to flush on shutdown")
		return err
	}
	return nil
}
