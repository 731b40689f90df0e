package server

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"
	"google.golang.org/genproto/googleapis/rpc/errdetails"

	"github.com/at-ishikawa/studycore/internal/collection"
	"github.com/at-ishikawa/studycore/internal/generation"
	"github.com/at-ishikawa/studycore/internal/learning"
	"github.com/at-ishikawa/studycore/internal/srs"
	"github.com/at-ishikawa/studycore/internal/validation"
)

// connectError maps domain errors onto Connect codes.
func connectError(err error) *connect.Error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}
	if verr, ok := validation.As(err); ok {
		return invalidArgument(verr)
	}

	var storageErr *generation.StorageError
	switch {
	case errors.Is(err, learning.ErrInvalidItem), errors.Is(err, srs.ErrInvalidRating):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, learning.ErrItemNotFound),
		errors.Is(err, generation.ErrJobNotFound),
		errors.Is(err, collection.ErrCollectionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, generation.ErrJobNotActive):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.As(err, &storageErr):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	slog.Default().Error("unhandled server error", "error", err)
	return connect.NewError(connect.CodeInternal, err)
}

// invalidArgument attaches every violation as a BadRequest detail.
func invalidArgument(verr *validation.Error) *connect.Error {
	connectErr := connect.NewError(connect.CodeInvalidArgument, verr)
	fieldViolations := make([]*errdetails.BadRequest_FieldViolation, 0, len(verr.Violations))
	for _, v := range verr.Violations {
		fieldViolations = append(fieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       v.Field,
			Description: v.Description,
		})
	}
	if detail, detailErr := connect.NewErrorDetail(&errdetails.BadRequest{
		FieldViolations: fieldViolations,
	}); detailErr == nil {
		connectErr.AddDetail(detail)
	}
	return connectErr
}
