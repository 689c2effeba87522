package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iago/meetiq-back/internal/http/handlers"
	"github.com/iago/meetiq-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Objects        http.Handler
	Logger         zerolog.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/readyz", deps.API.Ready)
	mux.HandleFunc("/v1/jobs", deps.API.Jobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobStatus)
	mux.HandleFunc("/v1/meetings/", deps.API.Meetings)
	if deps.Objects != nil {
		mux.Handle("/v1/objects/", deps.Objects)
	}

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
