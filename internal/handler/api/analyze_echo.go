package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"BizHealth/internal/domain/models"
	"BizHealth/internal/service/ratelimit"
	"BizHealth/internal/services/features"
	"BizHealth/internal/usecase"
	xhttp "BizHealth/pkg/http"
	xlogger "BizHealth/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Analyzer is the prediction service behind the HTTP API.
type Analyzer interface {
	Analyze(ctx context.Context, m models.BusinessMetrics) (*models.PredictionResult, error)
	PredictVector(ctx context.Context, vec models.FeatureVector) (*models.PredictionResult, error)
	Labels() models.LabelClasses
	Info() *models.ModelInfo
}

// RateLimit is a per-client token bucket. Burst 0 disables it.
type RateLimit struct {
	Burst     float64
	PerSecond float64
}

// AnalyzeEchoHandler serves the business health API.
type AnalyzeEchoHandler struct {
	logger   *xlogger.Logger
	analyzer Analyzer
	rl       *ratelimit.Limiter
	limit    RateLimit
	stop     func()
}

func NewAnalyzeEchoHandler(logger *xlogger.Logger, analyzer Analyzer, limit RateLimit) *AnalyzeEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &AnalyzeEchoHandler{logger: logger, analyzer: analyzer, rl: ratelimit.New(), limit: limit, stop: func() {}}
	if limit.Burst > 0 {
		h.stop = h.rl.StartSweeper(time.Minute, limit.idleAfter())
	}
	return h
}

// idleAfter is how long a bucket must sit unused before it is full again and can be dropped.
// Without a refill rate buckets are dropped after a minute.
func (r RateLimit) idleAfter() time.Duration {
	idle := time.Minute
	if r.PerSecond > 0 {
		if full := time.Duration(r.Burst / r.PerSecond * float64(time.Second)); full > idle {
			idle = full
		}
	}
	return idle
}

// retryAfter is how long one token takes to come back.
func (r RateLimit) retryAfter() time.Duration {
	if r.PerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / r.PerSecond)
}

// Close stops the rate limiter sweeper.
func (h *AnalyzeEchoHandler) Close() error {
	h.stop()
	return nil
}

func (h *AnalyzeEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.POST("/analyze", h.Analyze)
	g.POST("/predict", h.Predict)
	g.GET("/model", h.Model)
}

// Analyze scores one store-week given by named fields. The two ratios are derived when
// the client leaves them out.
func (h *AnalyzeEchoHandler) Analyze(c echo.Context) error {
	if !h.allow(c, "analyze") {
		return xhttp.TooManyRequestsResponse(c, h.limit.retryAfter())
	}
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m := features.FromRequest(req)

	res, err := h.analyzer.Analyze(c.Request().Context(), m)
	if err != nil {
		return h.fail(c, "analyze", err)
	}
	return xhttp.SuccessResponse(c, h.response(res, &m))
}

// Predict scores a raw feature row already in schema order.
func (h *AnalyzeEchoHandler) Predict(c echo.Context) error {
	if !h.allow(c, "predict") {
		return xhttp.TooManyRequestsResponse(c, h.limit.retryAfter())
	}
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.analyzer.PredictVector(c.Request().Context(), req.Features)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	return xhttp.SuccessResponse(c, h.response(res, nil))
}

func (h *AnalyzeEchoHandler) Model(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, h.analyzer.Info())
}

func (h *AnalyzeEchoHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AnalyzeEchoHandler) allow(c echo.Context, endpoint string) bool {
	if h.rl.Allow(c.RealIP()+":"+endpoint, h.limit.Burst, h.limit.PerSecond) {
		return true
	}
	h.logger.Warn("rate limited", xlogger.String("endpoint", endpoint), xlogger.String("remote", c.RealIP()))
	return false
}

func (h *AnalyzeEchoHandler) response(res *models.PredictionResult, m *models.BusinessMetrics) *models.AnalyzeResponse {
	return &models.AnalyzeResponse{
		HealthStatus:  res.PredictedClass,
		Confidence:    res.Confidence,
		ClassIndex:    res.ClassIndex,
		Probabilities: res.Breakdown(h.analyzer.Labels()),
		Features:      m,
	}
}

// fail maps pipeline errors to responses. Bad input rows are the caller's fault, anything
// later in the pipeline is ours.
func (h *AnalyzeEchoHandler) fail(c echo.Context, endpoint string, err error) error {
	var se *usecase.StageError
	if errors.As(err, &se) && se.Stage == usecase.StageNormalize &&
		(errors.Is(err, features.ErrLengthMismatch) || errors.Is(err, features.ErrNonFinite)) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithField("features").WithError(err))
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("request cancelled").WithError(err))
	}
	h.logger.Error(endpoint+" usecase error", xlogger.Error(err))
	return xhttp.InternalServerErrorResponse(c)
}
