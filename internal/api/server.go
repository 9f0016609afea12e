package api

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wrn/internal/data"
	"github.com/samcharles93/wrn/internal/logger"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 16 << 20

	headerRequestID = "X-Request-Id"
)

type Server struct {
	cls     Classifier
	metrics *Metrics
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(cls Classifier, metrics *Metrics, log logger.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		cls:     cls,
		metrics: metrics,
		log:     log.With(logger.ComponentKey, "api"),
		clock:   time.Now,
	}
}

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/classify", s.handleClassify)
	e.GET("/metrics", s.handleMetrics)
}

// Handler returns e instrumented with the server's HTTP metrics.
func (s *Server) Handler(e *echo.Echo) http.Handler {
	return s.metrics.Wrap(e)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Model: s.cls.Info().Name})
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelResponse{Object: "model", ModelInfo: s.cls.Info()})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleClassify(c *echo.Context) error {
	id := "cls-" + uuid.NewString()
	c.Response().Header().Set(headerRequestID, id)

	img, err := s.readImage(c)
	if err != nil {
		return writeBadRequest(c, err)
	}

	start := s.clock()
	pred, err := s.cls.Classify(c.Request().Context(), img)
	if err != nil {
		s.log.Error("classify failed", "request_id", id, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	s.metrics.observePrediction(pred.Label, s.clock().Sub(start))
	s.log.Debug("classified", "request_id", id, "label", pred.Label, "class", pred.Class)

	return c.JSON(http.StatusOK, ClassifyResponse{
		ID:         id,
		Object:     "classification",
		Created:    start.Unix(),
		Model:      s.cls.Info().Name,
		Prediction: pred,
	})
}

// readImage accepts a JSON body with raw CHW pixels or a multipart upload
// in the "image" field.
func (s *Server) readImage(c *echo.Context) (*image.NRGBA, error) {
	req := c.Request()
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	switch {
	case mediaType == "multipart/form-data":
		req.Body = http.MaxBytesReader(c.Response(), req.Body, maxUploadBody)
		f, _, err := req.FormFile("image")
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("multipart field %q: %v", "image", err))
		}
		defer f.Close()
		img, err := data.DecodeImage(f)
		if err != nil {
			return nil, newInvalidImage(err.Error())
		}
		return img, nil
	case mediaType == "" || mediaType == echo.MIMEApplicationJSON:
		body, err := io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, maxJSONBody))
		if err != nil {
			return nil, newInvalidRequest(err.Error())
		}
		r, err := decodeJSON[ClassifyRequest](bytes.NewReader(body))
		if err != nil {
			return nil, newInvalidRequest("invalid JSON body: " + err.Error())
		}
		return pixelsToImage(r.Pixels)
	default:
		return nil, newInvalidRequest("unsupported content type " + mediaType)
	}
}

func pixelsToImage(px []int) (*image.NRGBA, error) {
	if len(px) != data.SampleBytes {
		return nil, newInvalidImage(fmt.Sprintf("pixels must have %d values, got %d", data.SampleBytes, len(px)))
	}
	raw := make([]byte, len(px))
	for i, v := range px {
		if v < 0 || v > 255 {
			return nil, newInvalidImage(fmt.Sprintf("pixel %d out of range: %d", i, v))
		}
		raw[i] = byte(v)
	}
	return data.ImageFromCHW(raw), nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, err error) error {
	errType := "invalid_request_error"
	if errors.Is(err, ErrInvalidImage) {
		errType = "invalid_image_error"
	}
	return writeError(c, http.StatusBadRequest, errType, err.Error())
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, ErrorResponse{Error: ResponseError{
		Message: strings.TrimSpace(msg),
		Type:    errType,
	}})
}
