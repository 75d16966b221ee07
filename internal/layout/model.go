package layout

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"pdf-translator/internal/logger"
)

var (
	envOnce sync.Once
	envErr  error
)

// initEnvironment initializes onnxruntime once per process.
func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// ModelConfig configures a DocLayoutModel.
type ModelConfig struct {
	ModelPath string
	// LibraryPath locates the onnxruntime shared library; empty uses the default search.
	LibraryPath string
	Confidence  float64
	IoU         float64
	// Classes overrides the class names for checkpoints other than DocStructBench.
	Classes []string
}

// DocLayoutModel runs a DocLayout-YOLO ONNX export. The session is shared and
// calls are serialized.
type DocLayoutModel struct {
	cfg        ModelConfig
	inputName  string
	outputName string
	batch      int64

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	buf     []float32
}

// NewDocLayoutModel loads the model and creates its session.
func NewDocLayoutModel(cfg ModelConfig) (*DocLayoutModel, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path not specified")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.25
	}
	if cfg.IoU <= 0 {
		cfg.IoU = 0.45
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = DocStructBenchClasses
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has no inputs or outputs")
	}

	m := &DocLayoutModel{
		cfg:        cfg,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		batch:      1,
	}
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[0] != 1 {
		// dynamic (-1) or fixed batch larger than one
		m.batch = dims[0]
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{m.inputName}, []string{m.outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	m.session = session

	logger.Info("layout model loaded",
		logger.String("path", cfg.ModelPath),
		logger.String("input", m.inputName),
		logger.String("output", m.outputName),
		logger.Int64("batch", m.batch))
	return m, nil
}

// Classify detects regions on one page.
func (m *DocLayoutModel) Classify(ctx context.Context, raster Raster) ([]Region, error) {
	out, err := m.ClassifyBatch(ctx, []Raster{raster})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ClassifyBatch runs pages through the model, several per call when the
// model's batch dimension allows it.
func (m *DocLayoutModel) ClassifyBatch(ctx context.Context, rasters []Raster) ([][]Region, error) {
	results := make([][]Region, 0, len(rasters))
	step := 1
	if m.batch != 1 {
		step = len(rasters)
		if m.batch > 1 {
			step = int(m.batch)
		}
	}
	for start := 0; start < len(rasters); start += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+step, len(rasters))
		regions, err := m.run(rasters[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, regions...)
	}
	return results, nil
}

func (m *DocLayoutModel) run(rasters []Raster) ([][]Region, error) {
	n := len(rasters)
	size := ModelInputSize
	plane := 3 * size * size

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, fmt.Errorf("layout model is closed")
	}

	if cap(m.buf) < n*plane {
		m.buf = make([]float32, n*plane)
	}
	data := m.buf[:n*plane]
	boxes := make([]letterbox, n)
	for i, r := range rasters {
		if r.Image == nil {
			return nil, fmt.Errorf("raster %d has no image", i)
		}
		img, lb := letterboxImage(r.Image, size)
		tensorCHW(img, data[i*plane:(i+1)*plane])
		boxes[i] = lb
	}

	input, err := ort.NewTensor(ort.NewShape(int64(n), 3, int64(size), int64(size)), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	started := time.Now()
	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	shape := tensor.GetShape()
	raw := tensor.GetData()

	logger.Debug("layout inference complete",
		logger.Int("pages", n),
		logger.Duration("took", time.Since(started)),
		logger.String("shape", shape.String()))

	per := len(raw) / n
	results := make([][]Region, n)
	for i := range rasters {
		dets, err := parseDetections(raw[i*per:(i+1)*per], shape)
		if err != nil {
			return nil, err
		}
		dets = filterByConfidence(dets, m.cfg.Confidence)
		dets = nmsPerClass(dets, m.cfg.IoU)
		results[i] = toRegions(dets, boxes[i], rasters[i], m.cfg.Classes)
	}
	return results, nil
}

// Close releases the session.
func (m *DocLayoutModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
