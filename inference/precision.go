package inference

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-zoo/weights"
)

// Precision represents the storage precision of exported weights.
type Precision string

// Precision constants are the supported precisions for weight export.
const (
	PrecisionFP16 Precision = "FP16"
	PrecisionFP32 Precision = "FP32"
)

// ParsePrecision parses a precision name, case-insensitively.
func ParsePrecision(s string) (Precision, error) {
	switch p := Precision(strings.ToUpper(s)); p {
	case PrecisionFP16, PrecisionFP32:
		return p, nil
	default:
		return "", errors.Errorf("unsupported precision %q", s)
	}
}

// DType returns the safetensors element type of p.
func (p Precision) DType() weights.DType {
	if p == PrecisionFP16 {
		return weights.DTypeF16
	}
	return weights.DTypeF32
}
