package services

import (
	"errors"
	"fmt"

	apperrors "egc/internal/errors"
	"egc/internal/files"
	"egc/internal/mapping"
	"egc/internal/operations"
	"egc/internal/storage"
	"egc/pkg/contracts/events"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)

// translate turns errors from the lower layers into AppErrors so handlers can
// pick a status code without knowing where the error came from.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, events.ErrInvalidCommand), errors.Is(err, ErrInvalidInput):
		return apperrors.NewAppValidationError(err.Error())
	case errors.Is(err, files.ErrUnsupportedType):
		return apperrors.NewAppValidationError(err.Error())
	case errors.Is(err, files.ErrUploadTooLarge):
		return apperrors.NewTooLargeError(err.Error(), err)
	case errors.Is(err, files.ErrUploadNotFound):
		return apperrors.NewNotFoundError("upload", err)
	case errors.Is(err, operations.ErrJobNotFound):
		return apperrors.NewNotFoundError("job", err)
	case errors.Is(err, mapping.ErrPresetNotFound):
		return apperrors.NewNotFoundError("preset", err)
	case errors.Is(err, mapping.ErrPresetUnreadable):
		return apperrors.NewParsingError(err.Error(), err)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("report", err)
	case errors.Is(err, operations.ErrJobNotCancelable), errors.Is(err, operations.ErrSnapshotNotReady):
		return apperrors.NewConflictError(err.Error(), err)
	case errors.Is(err, operations.ErrQueueFull), errors.Is(err, operations.ErrManagerStopped):
		return fmt.Errorf("%s: %w", op, apperrors.ErrServiceUnavailable)
	}
	return apperrors.NewInternalError(op+" failed", err)
}
