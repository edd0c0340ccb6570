//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/cinetalk/pkg/utils"
)

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It requires CGO and the
// onnxruntime shared library.
type ONNXEmbedder struct {
	modelID    string
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	pooled     bool
	tokenizer  Tokenizer
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder from cfg. It refuses to start without the
// model's tokenizer.json.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx model path is required")
	}
	if cfg.Dimensions <= 0 || cfg.MaxTokens <= 2 {
		return nil, fmt.Errorf("invalid onnx shape: dimensions=%d max_tokens=%d", cfg.Dimensions, cfg.MaxTokens)
	}
	tokenizer, err := NewHFTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx tokenizer: %w", err)
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	inputIDs, attentionMask := fitTokens(nil, tokenizer.PadID(), cfg.MaxTokens)
	maxTokens := int64(cfg.MaxTokens)

	inputIDsTensor, err := ort.NewTensor(ort.NewShape(1, maxTokens), inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	attentionMaskTensor, err := ort.NewTensor(ort.NewShape(1, maxTokens), attentionMask)
	if err != nil {
		inputIDsTensor.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}

	// A pooled export emits [1, D]; otherwise the output is token states [1, T, D].
	pooled := cfg.OutputName != "last_hidden_state"
	outputShape := ort.NewShape(1, int64(cfg.Dimensions))
	outputLen := cfg.Dimensions
	if !pooled {
		outputShape = ort.NewShape(1, maxTokens, int64(cfg.Dimensions))
		outputLen = cfg.MaxTokens * cfg.Dimensions
	}
	outputTensor, err := ort.NewTensor(outputShape, make([]float32, outputLen))
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		inputIDsTensor.Destroy()
		attentionMaskTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		modelID:             onnxModelID(cfg),
		session:             session,
		dimensions:          cfg.Dimensions,
		maxTokens:           cfg.MaxTokens,
		pooled:              pooled,
		tokenizer:           tokenizer,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		outputTensor:        outputTensor,
	}, nil
}

// Embed runs the model on text and returns an L2-normalized vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	inputIDs, attentionMask, err := e.tokenizer.Tokenize(text, e.maxTokens)
	if err != nil {
		return nil, err
	}
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := e.outputTensor.GetData()
	var embedding []float32
	if e.pooled {
		embedding = make([]float32, e.dimensions)
		copy(embedding, outputData[:e.dimensions])
	} else {
		embedding = utils.MeanPool(outputData, attentionMask, e.dimensions)
	}
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text; the session holds fixed-size tensors.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// ModelID implements Identifier.
func (e *ONNXEmbedder) ModelID() string {
	return e.modelID
}

func onnxModelID(cfg ONNXConfig) string {
	name := cfg.Model
	if name == "" {
		name = filepath.Base(cfg.ModelPath)
	}
	return fmt.Sprintf("onnx/%s/%s", name, cfg.OutputName)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputIDsTensor != nil {
		_ = e.inputIDsTensor.Destroy()
		e.inputIDsTensor = nil
	}
	if e.attentionMaskTensor != nil {
		_ = e.attentionMaskTensor.Destroy()
		e.attentionMaskTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
