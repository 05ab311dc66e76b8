package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/greenwatch-labs/greenghost/internal/audit"
	"github.com/greenwatch-labs/greenghost/internal/warehouse"
)

// FeatureNames are the model inputs, in column order.
var FeatureNames = []string{"total_loan_usd", "cpi_score", "ndvi_change_metric"}

// minTrainRows is the smallest dataset the trainer accepts.
const minTrainRows = 5

// Metrics summarizes a training run.
type Metrics struct {
	ROCAUC       float64            `json:"roc_auc"`
	TotalRows    int                `json:"total_rows"`
	TrainRows    int                `json:"train_rows"`
	TestRows     int                `json:"test_rows"`
	DroppedRows  int                `json:"dropped_no_data_rows"`
	GhostRate    float64            `json:"ghost_rate"`
	Importances  map[string]float64 `json:"feature_importances"`
	TreeCount    int                `json:"tree_count"`
	Seed         int64              `json:"seed"`
	FeatureMeans map[string]float64 `json:"feature_means"`
}

// modelArtifact is the persisted form of a trained classifier, trees and
// all, so a run's model can be reloaded without retraining.
type modelArtifact struct {
	Model    string   `json:"model"`
	Trees    int      `json:"trees"`
	Seed     int64    `json:"seed"`
	Features []string `json:"features"`
	Forest   *Forest  `json:"forest"`
}

// Builder trains the classifier and materializes per-project risk scores.
type Builder struct {
	wh        warehouse.Adapter
	reportDir string
	cfg       ForestConfig
	logger    *slog.Logger
}

// NewBuilder creates a Builder writing JSON artifacts under reportDir.
func NewBuilder(wh warehouse.Adapter, reportDir string, cfg ForestConfig, logger *slog.Logger) *Builder {
	if cfg.Trees == 0 {
		cfg = DefaultForestConfig()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{wh: wh, reportDir: reportDir, cfg: cfg, logger: logger}
}

type projectRow struct {
	key      string
	features []float64
	isGhost  int
}

// Run loads the audited dataset, trains the ensemble, evaluates it on a held
// out split and writes the ghost_scores table plus JSON artifacts.
func (b *Builder) Run(ctx context.Context) (*Metrics, error) {
	rows, dropped, err := b.loadDataset(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) < minTrainRows {
		return nil, fmt.Errorf("only %d usable projects after dropping no-data rows, need at least %d", len(rows), minTrainRows)
	}

	// Deterministic shuffled 80/20 split.
	order := rand.New(rand.NewSource(b.cfg.Seed)).Perm(len(rows)) //nolint:gosec // reproducibility
	cut := len(rows) * 4 / 5
	if cut == len(rows) {
		cut = len(rows) - 1
	}
	trainIdx, testIdx := order[:cut], order[cut:]

	// Impute missing features with the train-split mean only, so nothing
	// from the held-out rows leaks into training.
	means := featureMeans(rows, trainIdx)
	for _, r := range rows {
		for j, v := range r.features {
			if math.IsNaN(v) {
				r.features[j] = means[j]
			}
		}
	}

	trainX, trainY := slice(rows, trainIdx)
	testX, testY := slice(rows, testIdx)

	forest, err := TrainForest(trainX, trainY, b.cfg)
	if err != nil {
		return nil, fmt.Errorf("training failed: %w", err)
	}

	testScores := make([]float64, len(testX))
	for i, row := range testX {
		testScores[i] = forest.Predict(row)
	}
	auc := ROCAUC(testScores, testY)

	ghosts := 0
	for _, r := range rows {
		ghosts += r.isGhost
	}

	m := &Metrics{
		ROCAUC:       auc,
		TotalRows:    len(rows),
		TrainRows:    len(trainIdx),
		TestRows:     len(testIdx),
		DroppedRows:  dropped,
		GhostRate:    float64(ghosts) / float64(len(rows)),
		Importances:  map[string]float64{},
		TreeCount:    forest.NumTrees(),
		Seed:         b.cfg.Seed,
		FeatureMeans: map[string]float64{},
	}
	for i, name := range FeatureNames {
		m.Importances[name] = forest.Importances()[i]
		m.FeatureMeans[name] = means[i]
	}

	b.logger.Info("model trained",
		"roc_auc", auc,
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"dropped", dropped,
	)

	if err := b.writeScores(ctx, rows, forest); err != nil {
		return nil, err
	}
	if err := b.writeArtifacts(m, forest); err != nil {
		return nil, err
	}

	return m, nil
}

// loadDataset reads the audited view. Rows carrying the no-data sentinel are
// dropped; a site nobody could observe cannot inform the model.
func (b *Builder) loadDataset(ctx context.Context) ([]*projectRow, int, error) {
	result, err := b.wh.Query(ctx, `
		SELECT project_key, total_loan_usd, cpi_score, ndvi_change_metric, is_ghost
		FROM audited_projects
		ORDER BY project_key`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read audited projects: %w", err)
	}
	defer func() { _ = result.Close() }()

	var rows []*projectRow
	dropped := 0
	for result.Next() {
		var key string
		var loan, cpi, ndvi sql.NullFloat64
		var ghost sql.NullInt64
		if err := result.Scan(&key, &loan, &cpi, &ndvi, &ghost); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audited project: %w", err)
		}
		if !ndvi.Valid || ndvi.Float64 == audit.NoData {
			dropped++
			continue
		}
		rows = append(rows, &projectRow{
			key:      key,
			features: []float64{nullable(loan), nullable(cpi), ndvi.Float64},
			isGhost:  int(ghost.Int64),
		})
	}
	if err := result.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audited projects: %w", err)
	}

	return rows, dropped, nil
}

func (b *Builder) writeScores(ctx context.Context, rows []*projectRow, forest *Forest) error {
	if err := b.wh.Exec(ctx, "DROP TABLE IF EXISTS ghost_scores"); err != nil {
		return fmt.Errorf("failed to drop score table: %w", err)
	}
	if err := b.wh.Exec(ctx, `
		CREATE TABLE ghost_scores (
			project_key TEXT,
			ghost_risk_score DOUBLE PRECISION
		)`); err != nil {
		return fmt.Errorf("failed to create score table: %w", err)
	}

	const batch = 500
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		values := make([]string, 0, end-start)
		for _, r := range rows[start:end] {
			values = append(values, fmt.Sprintf("('%s', %g)",
				strings.ReplaceAll(r.key, "'", "''"), forest.Predict(r.features)))
		}
		if err := b.wh.Exec(ctx, "INSERT INTO ghost_scores VALUES "+strings.Join(values, ", ")); err != nil {
			return fmt.Errorf("failed to insert scores: %w", err)
		}
	}

	return nil
}

func (b *Builder) writeArtifacts(m *Metrics, forest *Forest) error {
	if err := os.MkdirAll(b.reportDir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := writeJSON(filepath.Join(b.reportDir, "model_metrics.json"), m); err != nil {
		return err
	}

	artifact := modelArtifact{
		Model:    "bagged_trees",
		Trees:    m.TreeCount,
		Seed:     m.Seed,
		Features: FeatureNames,
		Forest:   forest,
	}
	return writeJSON(filepath.Join(b.reportDir, "ghost_model.json"), artifact)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func nullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func featureMeans(rows []*projectRow, trainIdx []int) []float64 {
	p := len(FeatureNames)
	sums := make([]float64, p)
	counts := make([]int, p)
	for _, i := range trainIdx {
		for j, v := range rows[i].features {
			if !math.IsNaN(v) {
				sums[j] += v
				counts[j]++
			}
		}
	}
	means := make([]float64, p)
	for j := range means {
		if counts[j] > 0 {
			means[j] = sums[j] / float64(counts[j])
		}
	}
	return means
}

func slice(rows []*projectRow, idx []int) ([][]float64, []int) {
	X := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for k, i := range idx {
		X[k] = rows[i].features
		y[k] = rows[i].isGhost
	}
	return X, y
}
