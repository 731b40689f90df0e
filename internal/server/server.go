package server

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/at-ishikawa/studycore/internal/config"
)

const (
	StudyServiceName      = "studycore.v1.StudyService"
	GenerationServiceName = "studycore.v1.GenerationService"

	CreateItemProcedure    = "/" + StudyServiceName + "/CreateItem"
	RateItemProcedure      = "/" + StudyServiceName + "/RateItem"
	PreviewRatingProcedure = "/" + StudyServiceName + "/PreviewRating"
	ListDueItemsProcedure  = "/" + StudyServiceName + "/ListDueItems"
	GetStatsProcedure      = "/" + StudyServiceName + "/GetStats"

	CreateJobProcedure   = "/" + GenerationServiceName + "/CreateJob"
	AdvanceJobProcedure  = "/" + GenerationServiceName + "/AdvanceJob"
	CancelJobProcedure   = "/" + GenerationServiceName + "/CancelJob"
	GetProgressProcedure = "/" + GenerationServiceName + "/GetProgress"
)

// ClientOptions configures a connect.Client to talk to this server.
func ClientOptions() []connect.ClientOption {
	return []connect.ClientOption{connect.WithCodec(jsonCodec{})}
}

// NewHandler builds the HTTP handler for both services, including CORS and
// HTTP/2 cleartext support.
func NewHandler(cfg config.ServerConfig, study StudyService, queue GenerationQueue) (http.Handler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, fmt.Errorf("newRequestValidator() > %w", err)
	}
	studyHandler := NewStudyHandler(study, validator)
	generationHandler := NewGenerationHandler(queue, validator, newOwnerLimiter(cfg.RateLimit))

	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(ownerInterceptor()),
	}
	mux := http.NewServeMux()
	unary(mux, CreateItemProcedure, studyHandler.CreateItem, opts...)
	unary(mux, RateItemProcedure, studyHandler.RateItem, opts...)
	unary(mux, PreviewRatingProcedure, studyHandler.PreviewRating, opts...)
	unary(mux, ListDueItemsProcedure, studyHandler.ListDueItems, opts...)
	unary(mux, GetStatsProcedure, studyHandler.GetStats, opts...)
	unary(mux, CreateJobProcedure, generationHandler.CreateJob, opts...)
	unary(mux, AdvanceJobProcedure, generationHandler.AdvanceJob, opts...)
	unary(mux, CancelJobProcedure, generationHandler.CancelJob, opts...)
	unary(mux, GetProgressProcedure, generationHandler.GetProgress, opts...)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return corsMiddleware(cfg.CORS, h2c.NewHandler(mux, &http2.Server{})), nil
}

func unary[Req, Res any](mux *http.ServeMux, procedure string, fn func(context.Context, *Req) (*Res, error), opts ...connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(
		procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}
