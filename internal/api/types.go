package api

import (
	"time"

	"github.com/samcharles93/wrn/internal/hparams"
)

// ModelInfo describes the loaded checkpoint.
type ModelInfo struct {
	Name       string          `json:"name"`
	Epoch      int             `json:"epoch"`
	RunID      string          `json:"run_id"`
	Created    time.Time       `json:"created"`
	Parameters int             `json:"parameters"`
	Classes    []string        `json:"classes"`
	Options    hparams.Options `json:"options"`
}

// Prediction is the classifier output for one image.
type Prediction struct {
	Class         int       `json:"class"`
	Label         string    `json:"label"`
	Probabilities []float32 `json:"probabilities"`
}

// ClassifyRequest carries a raw CIFAR-10 record: 3072 bytes in CHW order.
type ClassifyRequest struct {
	Pixels []int `json:"pixels"`
}

type ClassifyResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Prediction
}

type ModelResponse struct {
	Object string `json:"object"`
	ModelInfo
}

type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ErrorResponse struct {
	Error ResponseError `json:"error"`
}
