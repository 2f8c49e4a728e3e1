package model

import (
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

const defaultVariantKey = "default"

// Thresholds are the regression limits applied to one comparison: the max
// level uses Threshold, every individual thread level uses ThreadThreshold.
// The undesired/unacceptable pair is the four-level scheme used by
// dashboard variants; it is zero for ordinary variants.
type Thresholds struct {
	Threshold       float64 `yaml:"threshold"`
	ThreadThreshold float64 `yaml:"thread_threshold"`

	Undesired          float64 `yaml:"undesired,omitempty"`
	ThreadUndesired    float64 `yaml:"thread_undesired,omitempty"`
	Unacceptable       float64 `yaml:"unacceptable,omitempty"`
	ThreadUnacceptable float64 `yaml:"thread_unacceptable,omitempty"`
}

// ThresholdConfig resolves (project, variant) to regression thresholds,
// falling back to the project's default entry when the variant is not
// configured. A project missing entirely is a configuration error the
// caller must treat as fatal.
type ThresholdConfig map[string]map[string]Thresholds

// DefaultThresholdConfig returns the compiled-in threshold table.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		"sys-perf": {
			defaultVariantKey: {Threshold: 0.08, ThreadThreshold: 0.12},
			"linux-oplog-compare": {
				Threshold:       0.1,
				ThreadThreshold: 0.2,
			},
		},
		"performance": {
			defaultVariantKey: {Threshold: 0.08, ThreadThreshold: 0.12},
		},
		"longevity": {
			defaultVariantKey: {Threshold: 0.1, ThreadThreshold: 0.15},
		},
		"dashboard": {
			defaultVariantKey: {
				Threshold:          0.08,
				ThreadThreshold:    0.12,
				Undesired:          0.08,
				ThreadUndesired:    0.12,
				Unacceptable:       0.16,
				ThreadUnacceptable: 0.24,
			},
		},
	}
}

// LoadThresholdConfig reads a YAML threshold file. An empty path returns
// the compiled-in defaults.
func LoadThresholdConfig(path string) (ThresholdConfig, error) {
	if path == "" {
		return DefaultThresholdConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading threshold file %s", path)
	}

	conf := ThresholdConfig{}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, errors.Wrap(err, "problem parsing threshold data")
	}

	return conf, nil
}

// Resolve returns the thresholds for a project and variant. The error is a
// configuration-time contract violation; callers abort the run on it rather
// than assuming a default.
func (c ThresholdConfig) Resolve(project, variant string) (Thresholds, error) {
	variants, ok := c[project]
	if !ok {
		return Thresholds{}, errors.Errorf("no thresholds configured for project '%s'", project)
	}

	if thresholds, ok := variants[variant]; ok {
		return thresholds, nil
	}
	if thresholds, ok := variants[defaultVariantKey]; ok {
		return thresholds, nil
	}

	return Thresholds{}, errors.Errorf("no thresholds for variant '%s' in project '%s' and no default", variant, project)
}
