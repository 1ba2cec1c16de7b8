// Package sandbox is an in-memory FHIR R4 server for Patient and Condition.
// Fixtures run against it locally, and so do this repo's own tests.
package sandbox

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/fhircheck/internal/platform/auth"
	"github.com/ehr/fhircheck/internal/platform/fhir"
	"github.com/ehr/fhircheck/internal/platform/middleware"
	"github.com/ehr/fhircheck/pkg/fhirmodels"
)

type Config struct {
	// BasePath defaults to /fhir.
	BasePath string
	// BaseURL prefixes fullUrl values in bundles. Empty means BasePath.
	BaseURL string
	// ResourceTypes defaults to Patient and Condition.
	ResourceTypes []string
	// Auth enables bearer token checks when set.
	Auth      *auth.VerifierConfig
	BodyLimit string
	Logger    zerolog.Logger
}

type Server struct {
	e        *echo.Echo
	store    *Store
	basePath string
	baseURL  string
	types    []string
	logger   zerolog.Logger
}

func New(cfg Config) *Server {
	basePath := strings.TrimRight(cfg.BasePath, "/")
	if cfg.BasePath == "" {
		basePath = "/fhir"
	}
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	types := cfg.ResourceTypes
	if len(types) == 0 {
		types = []string{fhirmodels.ResourcePatient, fhirmodels.ResourceCondition}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = basePath
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit == "" {
		bodyLimit = "2M"
	}

	s := &Server{
		e:        echo.New(),
		store:    NewStore(types...),
		basePath: basePath,
		baseURL:  baseURL,
		types:    types,
		logger:   cfg.Logger,
	}

	e := s.e
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	e.Use(echomw.BodyLimit(bodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	g := e.Group(basePath)
	g.GET("/metadata", s.metadata)

	api := g.Group("")
	if cfg.Auth != nil {
		api.Use(auth.BearerMiddleware(*cfg.Auth))
	}
	api.POST("/", s.bundle)
	api.GET("/:type", s.search)
	api.POST("/:type", s.create)
	api.POST("/:type/_search", s.searchPost)
	api.POST("/:type/$validate", s.validate)
	api.GET("/:type/:id", s.read)
	api.PUT("/:type/:id", s.update)
	api.PATCH("/:type/:id", s.patch)
	api.DELETE("/:type/:id", s.delete)
	api.GET("/:type/:id/_history", s.history)
	api.GET("/:type/:id/_history/:vid", s.vread)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

func (s *Server) Store() *Store { return s.store }

func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Str("base_path", s.basePath).Strs("types", s.types).Msg("starting sandbox")
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// errorHandler renders every error as an OperationOutcome.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}

	var oo *fhir.OperationOutcome
	switch status {
	case http.StatusNotFound:
		oo = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, msg)
	case http.StatusMethodNotAllowed:
		oo = fhir.NotSupportedOutcome(msg)
	case http.StatusRequestEntityTooLarge:
		oo = fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeStructure, msg)
	case http.StatusInternalServerError:
		oo = fhir.InternalErrorOutcome(msg)
	default:
		oo = fhir.ErrorOutcome(msg)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if werr := writeJSON(c, status, oo); werr != nil {
		s.logger.Error().Err(werr).Msg("write error response")
	}
}
