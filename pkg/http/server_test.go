package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes func(e *echo.Echo)

func (r routes) RegisterRoutes(e *echo.Echo) { r(e) }

type scoreRequest struct {
	Pemasukan *float64 `json:"pemasukan" validate:"required,gte=0"`
	Mode      string   `json:"mode" default:"full" validate:"oneof=full quick"`
}

func newTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := NewServer(routes(func(e *echo.Echo) {
		e.POST("/score", func(c echo.Context) error {
			req := &scoreRequest{}
			if verr := ReadAndValidateRequest(c, req); verr != nil {
				return BadRequestResponse(c, verr)
			}
			return SuccessResponse(c, req)
		})
		e.GET("/boom", func(echo.Context) error { panic("kaboom") })
		e.GET("/broken", func(c echo.Context) error {
			return AppErrorResponse(c, UnprocessableError("label count mismatch"))
		})
	}), WithMetrics("/metrics", reg, reg))
	return s, reg
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestReadAndValidateRequest(t *testing.T) {
	s, _ := newTestServer(t)

	rec := serve(s, http.MethodPost, "/score", `{"pemasukan": 10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok struct {
		Data scoreRequest `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	assert.Equal(t, "full", ok.Data.Mode, "defaults applied")

	rec = serve(s, http.MethodPost, "/score", `{"mode": "slow"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var bad ValidationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bad))
	require.Len(t, bad.Data, 2)
	assert.Equal(t, ValidationError{Code: "ERR_REQUIRED", Field: "pemasukan", Message: "pemasukan is required", Params: nil}, stripParams(bad.Data[0]))
	assert.Equal(t, "ERR_ONEOF", bad.Data[1].Code)
	assert.Equal(t, "mode must be one of: full, quick", bad.Data[1].Message)

	rec = serve(s, http.MethodPost, "/score", `{"pemasukan":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_BODY")
}

func stripParams(v ValidationError) ValidationError {
	v.Params = nil
	return v
}

func TestServerRecoversPanics(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestAppErrorResponse(t *testing.T) {
	s, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/broken", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_UNPROCESSABLE")
}

func TestServerExposesRequestMetrics(t *testing.T) {
	s, reg := newTestServer(t)
	serve(s, http.MethodPost, "/score", `{"pemasukan": 1}`)
	serve(s, http.MethodGet, "/nowhere", "")

	rec := serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `bizhealth_http_requests_total{method="POST",route="/score",status="200"} 1`)
	assert.Contains(t, body, `status="404"`)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func preflight(s *Server, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/score", nil)
	req.Header.Set(echo.HeaderOrigin, origin)
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServerCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := preflight(s, "https://dashboard.example.com")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodPost)
}

func TestServerCORSRestrictsOrigins(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(routes(func(e *echo.Echo) {
		e.POST("/score", func(c echo.Context) error { return SuccessResponse(c, nil) })
	}), WithMetrics("", reg, reg), WithCORSOrigins("https://umkm.example.com"))

	rec := preflight(s, "https://umkm.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = preflight(s, "https://elsewhere.example.com")
	assert.NotEqual(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	// simple requests from an admitted origin get the header and reach the route
	req := httptest.NewRequest(http.MethodPost, "/score", nil)
	req.Header.Set(echo.HeaderOrigin, "https://umkm.example.com")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://umkm.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServerStartReportsBoundAddr(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(routes(func(e *echo.Echo) {
		e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	}), WithPort(0), WithMetrics("", reg, reg))
	assert.Empty(t, s.Addr())

	require.NoError(t, s.Start())
	defer s.Stop(context.Background())
	require.NotEmpty(t, s.Addr())

	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// a second server on the same address fails at Start, not in the background
	other := NewServer(nil, WithMetrics("", nil, nil))
	other.config.Addr = s.Addr()
	assert.Error(t, other.Start())
}
