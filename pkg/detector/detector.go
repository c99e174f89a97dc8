package detector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MinTrainingSamples is the hard floor below which Train refuses to fit.
// The engine applies its own, larger configured minimum on top of this.
const MinTrainingSamples = 10

// ScoreResult is the outcome of scoring one feature vector.
type ScoreResult struct {
	IsAnomaly  bool    `json:"is_anomaly"`
	Confidence float64 `json:"confidence"`
}

// Metadata describes one trained model generation.
type Metadata struct {
	TrainedAt    time.Time             `json:"trained_at"`
	SampleCount  int                   `json:"sample_count"`
	FeatureCount int                   `json:"feature_count"`
	Params       IsolationForestParams `json:"params"`
}

// generation is one complete training result: model, scaler, and
// metadata, swapped in and out as a unit so the detector is never
// partially trained.
type generation struct {
	model  *IsolationForest
	scaler *StandardScaler
	meta   Metadata
}

// AnomalyDetector wraps one trainable unsupervised model plus its
// companion feature-scaling transform. Training atomically replaces the
// current generation only after it fully succeeds, so predictions in
// flight during a retrain score against the prior generation.
type AnomalyDetector struct {
	params IsolationForestParams
	store  *GenerationStore
	logger zerolog.Logger

	mu  sync.RWMutex
	gen *generation
}

// NewAnomalyDetector creates an untrained detector. modelDir is where
// generations persist; it is created lazily on the first Save.
func NewAnomalyDetector(params IsolationForestParams, modelDir string, logger zerolog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		params: params,
		store:  NewGenerationStore(modelDir),
		logger: logger.With().Str("component", "anomaly_detector").Logger(),
	}
}

// Train fits a new scaler and model over the given vectors. It returns
// false without touching existing trained state when fewer than
// MinTrainingSamples vectors are supplied or fitting fails. Training is
// not incremental; success always replaces the prior generation.
func (d *AnomalyDetector) Train(vectors [][]float64) bool {
	if len(vectors) < MinTrainingSamples {
		d.logger.Warn().Int("samples", len(vectors)).Msg("Insufficient training data.")
		return false
	}

	clean := SanitizeAll(vectors)
	scaler := FitScaler(clean)
	scaled := scaler.TransformAll(clean)

	model := NewIsolationForest(d.params)
	if err := model.Fit(scaled); err != nil {
		d.logger.Error().Err(err).Msg("Model training failed.")
		return false
	}

	next := &generation{
		model:  model,
		scaler: scaler,
		meta: Metadata{
			TrainedAt:    time.Now(),
			SampleCount:  len(vectors),
			FeatureCount: len(vectors[0]),
			Params:       model.Params,
		},
	}

	d.mu.Lock()
	d.gen = next
	d.mu.Unlock()

	d.logger.Info().
		Int("samples", next.meta.SampleCount).
		Int("features", next.meta.FeatureCount).
		Msg("Model training completed.")
	return true
}

// Predict scores one vector against the current generation. It fails
// closed when untrained: no anomaly, zero confidence. Non-finite inputs
// are sanitized before scaling so NaN and infinities never reach the
// output.
func (d *AnomalyDetector) Predict(vector []float64) ScoreResult {
	d.mu.RLock()
	gen := d.gen
	d.mu.RUnlock()

	if gen == nil {
		return ScoreResult{}
	}

	scaled := gen.scaler.Transform(Sanitize(vector))
	decision := gen.model.Decision(scaled)

	return ScoreResult{
		IsAnomaly:  decision < 0,
		Confidence: confidenceFrom(decision),
	}
}

// confidenceFrom maps a raw decision score to [0, 1] where 1.0 is
// maximally anomalous: clip to [-1, 1], invert the sign, rescale.
func confidenceFrom(decision float64) float64 {
	inverted := -decision
	if inverted > 1 {
		inverted = 1
	}
	if inverted < -1 {
		inverted = -1
	}
	return (inverted + 1) / 2
}

// IsTrained reports whether a complete generation (model and scaler) is
// present.
func (d *AnomalyDetector) IsTrained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.gen != nil && d.gen.model != nil && d.gen.scaler != nil
}

// ModelInfo returns metadata for the current generation, and false when
// untrained.
func (d *AnomalyDetector) ModelInfo() (Metadata, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.gen == nil {
		return Metadata{}, false
	}
	return d.gen.meta, true
}

// Save persists the current generation (model, scaler, metadata) as one
// atomic unit. It returns false when there is nothing to save or the
// write fails.
func (d *AnomalyDetector) Save() bool {
	d.mu.RLock()
	gen := d.gen
	d.mu.RUnlock()

	if gen == nil {
		d.logger.Warn().Msg("No trained model to save.")
		return false
	}
	if err := d.store.Save(gen.model, gen.scaler, gen.meta); err != nil {
		d.logger.Error().Err(err).Msg("Failed to persist model generation.")
		return false
	}
	d.logger.Info().Str("dir", d.store.Dir()).Msg("Model generation saved.")
	return true
}

// Load restores the latest persisted generation. Absence of any saved
// generation is a normal condition reported as false, not an error.
func (d *AnomalyDetector) Load() bool {
	model, scaler, meta, err := d.store.LoadLatest()
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to load model generation.")
		return false
	}
	if model == nil {
		d.logger.Info().Msg("No saved model generation found.")
		return false
	}

	d.mu.Lock()
	d.gen = &generation{model: model, scaler: scaler, meta: meta}
	d.mu.Unlock()

	d.logger.Info().
		Time("trained_at", meta.TrainedAt).
		Int("samples", meta.SampleCount).
		Msg("Model generation loaded.")
	return true
}
