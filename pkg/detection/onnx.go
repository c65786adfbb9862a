package detection

import (
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEngine runs the on-device threat model through onnxruntime. The
// session holds pre-allocated input/output tensors, so Invoke is lock-
// guarded rather than reallocating per call.
type ONNXEngine struct {
	session *ort.AdvancedSession

	features *ort.Tensor[float32]
	output   *ort.Tensor[float32]

	featureLen int

	mu sync.Mutex
}

// LoadONNXEngine initializes the onnxruntime session for the model at
// modelPath. featureLen must match the model's input width.
func LoadONNXEngine(modelPath string, featureLen int) (*ONNXEngine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("modelPath is empty")
	}
	if featureLen <= 0 {
		return nil, fmt.Errorf("invalid feature length %d", featureLen)
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	if libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	inputShape := ort.NewShape(1, int64(featureLen))
	features, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate feature tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(NumScores))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		features.Destroy()
		return nil, fmt.Errorf("allocate score tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"features"},
		[]string{"scores"},
		[]ort.Value{features},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		features.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXEngine{
		session:    session,
		features:   features,
		output:     output,
		featureLen: featureLen,
	}, nil
}

// Invoke implements Engine. Logits from the model are normalized with
// softmax so downstream thresholds operate on [0, 1] scores.
func (e *ONNXEngine) Invoke(features []float32) ([]float32, error) {
	if len(features) != e.featureLen {
		return nil, fmt.Errorf("expected %d features, got %d", e.featureLen, len(features))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.features.GetData(), features)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	logits := e.output.GetData()
	scores := make([]float32, NumScores)
	copy(scores, logits)
	softmax(scores)
	return scores, nil
}

// Close releases the session and tensors.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.features != nil {
		e.features.Destroy()
		e.features = nil
	}
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
	return nil
}

// softmax normalizes logits in place.
func softmax(v []float32) {
	if len(v) == 0 {
		return
	}

	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}

	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - max))
		v[i] = float32(e)
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
