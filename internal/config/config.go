package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/menta2k/leaf-analyzer/pkg/diagnosis"
	"github.com/menta2k/leaf-analyzer/pkg/feature"
	"github.com/menta2k/leaf-analyzer/pkg/risk"
)

// Config holds the application configuration. Every heuristic threshold of
// the pipeline is settable here so deployments can tune behavior without
// code change.
type Config struct {
	K         int             `json:"k" yaml:"k"`
	Feature   FeatureConfig   `json:"feature" yaml:"feature"`
	Diagnosis DiagnosisConfig `json:"diagnosis" yaml:"diagnosis"`
	Risk      RiskConfig      `json:"risk" yaml:"risk"`
}

// FeatureConfig holds configuration for feature extraction.
type FeatureConfig struct {
	MinSize             int     `json:"min_size" yaml:"min_size"`
	WorkingSize         int     `json:"working_size" yaml:"working_size"`
	BaselineHueMin      float64 `json:"baseline_hue_min" yaml:"baseline_hue_min"`
	BaselineHueMax      float64 `json:"baseline_hue_max" yaml:"baseline_hue_max"`
	LesionSaturationMin float64 `json:"lesion_saturation_min" yaml:"lesion_saturation_min"`
	BackgroundValueMin  float64 `json:"background_value_min" yaml:"background_value_min"`
	MinLesionArea       int     `json:"min_lesion_area" yaml:"min_lesion_area"`
}

// DiagnosisConfig holds configuration for the diagnosis engine.
type DiagnosisConfig struct {
	DistanceEpsilon float64 `json:"distance_epsilon" yaml:"distance_epsilon"`
}

// RiskConfig holds the revocation-risk scoring thresholds.
type RiskConfig struct {
	LowConfidence       float64 `json:"low_confidence" yaml:"low_confidence"`
	ModerateConfidence  float64 `json:"moderate_confidence" yaml:"moderate_confidence"`
	MinAgreement        float64 `json:"min_agreement" yaml:"min_agreement"`
	MaxDistanceGap      float64 `json:"max_distance_gap" yaml:"max_distance_gap"`
	MaxShapeVariability float64 `json:"max_shape_variability" yaml:"max_shape_variability"`
	MediumRiskScore     float64 `json:"medium_risk_score" yaml:"medium_risk_score"`
	HighRiskScore       float64 `json:"high_risk_score" yaml:"high_risk_score"`
}

// Default returns a configuration with the documented default values.
func Default() *Config {
	fc := feature.DefaultConfig()
	dc := diagnosis.DefaultConfig()
	rc := risk.DefaultConfig()

	return &Config{
		K: 5,
		Feature: FeatureConfig{
			MinSize:             fc.MinSize,
			WorkingSize:         fc.WorkingSize,
			BaselineHueMin:      fc.BaselineHueMin,
			BaselineHueMax:      fc.BaselineHueMax,
			LesionSaturationMin: fc.LesionSaturationMin,
			BackgroundValueMin:  fc.BackgroundValueMin,
			MinLesionArea:       fc.MinLesionArea,
		},
		Diagnosis: DiagnosisConfig{
			DistanceEpsilon: dc.DistanceEpsilon,
		},
		Risk: RiskConfig{
			LowConfidence:       rc.LowConfidence,
			ModerateConfidence:  rc.ModerateConfidence,
			MinAgreement:        rc.MinAgreement,
			MaxDistanceGap:      rc.MaxDistanceGap,
			MaxShapeVariability: rc.MaxShapeVariability,
			MediumRiskScore:     rc.MediumRiskScore,
			HighRiskScore:       rc.HighRiskScore,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Missing keys keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.K < 1 {
		return fmt.Errorf("k must be positive")
	}

	if c.Feature.MinSize < 1 {
		return fmt.Errorf("feature.min_size must be positive")
	}

	if c.Feature.BaselineHueMin < 0 || c.Feature.BaselineHueMax > 360 ||
		c.Feature.BaselineHueMin > c.Feature.BaselineHueMax {
		return fmt.Errorf("feature baseline hue range must satisfy 0 <= min <= max <= 360")
	}

	if c.Feature.LesionSaturationMin < 0 || c.Feature.LesionSaturationMin > 1 {
		return fmt.Errorf("feature.lesion_saturation_min must be between 0 and 1")
	}

	if c.Feature.BackgroundValueMin < 0 || c.Feature.BackgroundValueMin > 1 {
		return fmt.Errorf("feature.background_value_min must be between 0 and 1")
	}

	if c.Diagnosis.DistanceEpsilon <= 0 {
		return fmt.Errorf("diagnosis.distance_epsilon must be positive")
	}

	if c.Risk.LowConfidence < 0 || c.Risk.ModerateConfidence > 100 ||
		c.Risk.LowConfidence > c.Risk.ModerateConfidence {
		return fmt.Errorf("risk confidence thresholds must satisfy 0 <= low <= moderate <= 100")
	}

	if c.Risk.MinAgreement < 0 || c.Risk.MinAgreement > 1 {
		return fmt.Errorf("risk.min_agreement must be between 0 and 1")
	}

	if c.Risk.MaxDistanceGap <= 0 {
		return fmt.Errorf("risk.max_distance_gap must be positive")
	}

	if c.Risk.MaxShapeVariability <= 0 {
		return fmt.Errorf("risk.max_shape_variability must be positive")
	}

	if c.Risk.MediumRiskScore <= 0 || c.Risk.HighRiskScore > 1 ||
		c.Risk.MediumRiskScore > c.Risk.HighRiskScore {
		return fmt.Errorf("risk score boundaries must satisfy 0 < medium <= high <= 1")
	}

	return nil
}

// ExtractorConfig converts the file representation into the extractor config.
func (c *Config) ExtractorConfig() feature.Config {
	return feature.Config{
		MinSize:             c.Feature.MinSize,
		WorkingSize:         c.Feature.WorkingSize,
		BaselineHueMin:      c.Feature.BaselineHueMin,
		BaselineHueMax:      c.Feature.BaselineHueMax,
		LesionSaturationMin: c.Feature.LesionSaturationMin,
		BackgroundValueMin:  c.Feature.BackgroundValueMin,
		MinLesionArea:       c.Feature.MinLesionArea,
	}
}

// EngineConfig converts the file representation into the diagnosis config.
func (c *Config) EngineConfig() diagnosis.Config {
	return diagnosis.Config{DistanceEpsilon: c.Diagnosis.DistanceEpsilon}
}

// PredictorConfig converts the file representation into the risk config.
func (c *Config) PredictorConfig() risk.Config {
	return risk.Config{
		LowConfidence:       c.Risk.LowConfidence,
		ModerateConfidence:  c.Risk.ModerateConfidence,
		MinAgreement:        c.Risk.MinAgreement,
		MaxDistanceGap:      c.Risk.MaxDistanceGap,
		MaxShapeVariability: c.Risk.MaxShapeVariability,
		MediumRiskScore:     c.Risk.MediumRiskScore,
		HighRiskScore:       c.Risk.HighRiskScore,
	}
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "leaf-analyzer", "config.json")
}
