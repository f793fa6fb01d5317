//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

// ErrONNXUnavailable is returned by every ONNXEmbedder method in builds without CGO.
var ErrONNXUnavailable = errors.New("onnx embedding provider needs a cgo build with the onnxruntime library; use the hash, ollama or genai provider instead")

// ONNXEmbedder is unavailable without CGO.
type ONNXEmbedder struct{}

func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) { return nil, ErrONNXUnavailable }

func (*ONNXEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrONNXUnavailable
}

func (*ONNXEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrONNXUnavailable
}

func (*ONNXEmbedder) Dimensions() int { return 0 }
func (*ONNXEmbedder) Close() error    { return nil }
