package util

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds every knob of the batch engine.
type Tuning struct {
	ClassifyBatch   int `yaml:"classify_batch"`
	RevalidateBatch int `yaml:"revalidate_batch"`
	LabelBatch      int `yaml:"label_batch"`
	ViewpointBatch  int `yaml:"viewpoint_batch"`
	ExportBatch     int `yaml:"export_batch"`

	NeighborK        int           `yaml:"neighbor_k"`
	SimilarityFloor  float64       `yaml:"similarity_floor"`
	ReevaluateAfter  time.Duration `yaml:"-"`
	MinClusterSize   int           `yaml:"min_cluster_size"`
	MaxClusterSize   int           `yaml:"max_cluster_size"`
	CoreCount        int           `yaml:"core_count"`
	RetiredRetention time.Duration `yaml:"-"`

	CompetingWeight    float64 `yaml:"competing_weight"`
	ControversyMinimum float64 `yaml:"controversy_min_score"`

	DriftThreshold    float64 `yaml:"drift_threshold"`
	DriftMinNewMember int     `yaml:"drift_min_new_members"`
	LabelTokenBudget  int     `yaml:"label_token_budget"`

	GraphSimilarity float64 `yaml:"graph_similarity"`
	GraphMaxNodes   int     `yaml:"graph_max_nodes"`

	OracleConcurrency int           `yaml:"oracle_concurrency"`
	OracleRPS         float64       `yaml:"oracle_rps"`
	OracleRetries     int           `yaml:"oracle_retries"`
	LeaseTTL          time.Duration `yaml:"-"`
}

// DefaultTuning returns the built-in defaults.
func DefaultTuning() Tuning {
	return Tuning{
		ClassifyBatch:   50,
		RevalidateBatch: 500,
		LabelBatch:      25,
		ViewpointBatch:  50,
		ExportBatch:     100,

		NeighborK:        20,
		SimilarityFloor:  0.65,
		ReevaluateAfter:  7 * 24 * time.Hour,
		MinClusterSize:   2,
		MaxClusterSize:   30,
		CoreCount:        5,
		RetiredRetention: 30 * 24 * time.Hour,

		CompetingWeight:    0.5,
		ControversyMinimum: 2,

		DriftThreshold:    0.70,
		DriftMinNewMember: 3,
		LabelTokenBudget:  2000,

		GraphSimilarity: 0.80,
		GraphMaxNodes:   60,

		OracleConcurrency: 5,
		OracleRPS:         10,
		OracleRetries:     3,
		LeaseTTL:          15 * time.Minute,
	}
}

// LoadTuning applies TUNING_FILE (if set) and then env overrides on top of
// the defaults.
func LoadTuning() (Tuning, error) {
	t := DefaultTuning()
	if path := GetEnv("TUNING_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return t, fmt.Errorf("failed to read tuning file: %w", err)
		}
		if err := t.Overlay(data); err != nil {
			return t, err
		}
	}
	t.applyEnv()
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// Overlay applies the YAML fields present in data on top of t.
func (t *Tuning) Overlay(data []byte) error {
	var raw struct {
		Tuning `yaml:",inline"`

		ReevaluateAfter  string `yaml:"reevaluate_after"`
		RetiredRetention string `yaml:"retired_retention"`
		LeaseTTL         string `yaml:"lease_ttl"`
	}
	raw.Tuning = *t
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse tuning file: %w", err)
	}

	durations := []struct {
		in  string
		out *time.Duration
	}{
		{raw.ReevaluateAfter, &raw.Tuning.ReevaluateAfter},
		{raw.RetiredRetention, &raw.Tuning.RetiredRetention},
		{raw.LeaseTTL, &raw.Tuning.LeaseTTL},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("failed to parse tuning duration %q: %w", d.in, err)
		}
		*d.out = parsed
	}
	*t = raw.Tuning
	return nil
}

func (t *Tuning) applyEnv() {
	t.ClassifyBatch = int(GetEnvNumeric("CLASSIFY_BATCH", t.ClassifyBatch))
	t.RevalidateBatch = int(GetEnvNumeric("REVALIDATE_BATCH", t.RevalidateBatch))
	t.LabelBatch = int(GetEnvNumeric("LABEL_BATCH", t.LabelBatch))
	t.ViewpointBatch = int(GetEnvNumeric("VIEWPOINT_BATCH", t.ViewpointBatch))
	t.ExportBatch = int(GetEnvNumeric("EXPORT_BATCH", t.ExportBatch))

	t.NeighborK = int(GetEnvNumeric("NEIGHBOR_K", t.NeighborK))
	t.SimilarityFloor = GetEnvFloat("SIMILARITY_FLOOR", t.SimilarityFloor)
	t.ReevaluateAfter = GetEnvDuration("REEVALUATE_AFTER", t.ReevaluateAfter)
	t.MinClusterSize = int(GetEnvNumeric("MIN_CLUSTER_SIZE", t.MinClusterSize))
	t.MaxClusterSize = int(GetEnvNumeric("MAX_CLUSTER_SIZE", t.MaxClusterSize))
	t.CoreCount = int(GetEnvNumeric("CORE_COUNT", t.CoreCount))
	t.RetiredRetention = GetEnvDuration("RETIRED_RETENTION", t.RetiredRetention)

	t.CompetingWeight = GetEnvFloat("COMPETING_WEIGHT", t.CompetingWeight)
	t.ControversyMinimum = GetEnvFloat("CONTROVERSY_MIN_SCORE", t.ControversyMinimum)

	t.DriftThreshold = GetEnvFloat("DRIFT_THRESHOLD", t.DriftThreshold)
	t.DriftMinNewMember = int(GetEnvNumeric("DRIFT_MIN_NEW_MEMBERS", t.DriftMinNewMember))
	t.LabelTokenBudget = int(GetEnvNumeric("LABEL_TOKEN_BUDGET", t.LabelTokenBudget))

	t.GraphSimilarity = GetEnvFloat("GRAPH_SIMILARITY", t.GraphSimilarity)
	t.GraphMaxNodes = int(GetEnvNumeric("GRAPH_MAX_NODES", t.GraphMaxNodes))

	t.OracleConcurrency = int(GetEnvNumeric("AI_PARALLEL_REQ", t.OracleConcurrency))
	t.OracleRPS = GetEnvFloat("AI_REQ_PER_SECOND", t.OracleRPS)
	t.OracleRetries = int(GetEnvNumeric("AI_RETRIES", t.OracleRetries))
	t.LeaseTTL = GetEnvDuration("LEASE_TTL", t.LeaseTTL)
}

// Validate rejects combinations the engine cannot run with.
func (t Tuning) Validate() error {
	switch {
	case t.MinClusterSize < 2:
		return fmt.Errorf("min_cluster_size must be at least 2, got %d", t.MinClusterSize)
	case t.MaxClusterSize < t.MinClusterSize:
		return fmt.Errorf("max_cluster_size %d is below min_cluster_size %d", t.MaxClusterSize, t.MinClusterSize)
	case t.CompetingWeight < 0 || t.CompetingWeight >= 1:
		return fmt.Errorf("competing_weight must be in [0, 1), got %v", t.CompetingWeight)
	case t.OracleConcurrency < 1:
		return fmt.Errorf("oracle_concurrency must be positive, got %d", t.OracleConcurrency)
	case t.NeighborK < 1:
		return fmt.Errorf("neighbor_k must be positive, got %d", t.NeighborK)
	case t.GraphMaxNodes < 1:
		return fmt.Errorf("graph_max_nodes must be positive, got %d", t.GraphMaxNodes)
	}
	return nil
}
