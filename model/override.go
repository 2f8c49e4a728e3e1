package model

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/pkg/errors"
)

// ticketPattern matches the issue trackers that may own an override. Every
// override entry must reference at least one ticket so that suppressed
// regressions stay auditable.
var ticketPattern = regexp.MustCompile(`^(PERF|SERVER|BF)-\d+$`)

// ReferenceOverride is a manually curated substitute reference point for
// one test, replacing the computed baseline or n-days record.
type ReferenceOverride struct {
	Revision   string        `json:"revision"`
	Tag        string        `json:"tag"`
	Order      int           `json:"order"`
	CreateTime string        `json:"create_time"`
	Results    ThreadResults `json:"results"`
	Ticket     []string      `json:"ticket"`
}

// Record converts the override payload into a history record usable as a
// comparison reference.
func (o *ReferenceOverride) Record(test string) *HistoryRecord {
	// a malformed create time degrades to the zero time, which only
	// affects n-days math that overrides bypass anyway
	createTime, _ := parseCreateTime(o.CreateTime)

	return &HistoryRecord{
		TestName:   test,
		Revision:   o.Revision,
		Tag:        o.Tag,
		Order:      o.Order,
		CreateTime: createTime,
		Results:    o.Results,
	}
}

// ThresholdOverride replaces the configured regression thresholds for one
// test.
type ThresholdOverride struct {
	Threshold       float64  `json:"threshold"`
	ThreadThreshold float64  `json:"thread_threshold"`
	Ticket          []string `json:"ticket"`
}

// VariantOverrides groups the override entries for one build variant by
// rule kind.
type VariantOverrides struct {
	Reference map[string]*ReferenceOverride `json:"reference"`
	NDays     map[string]*ReferenceOverride `json:"ndays"`
	Threshold map[string]*ThresholdOverride `json:"threshold"`
}

// OverrideStore holds the override file contents keyed by build variant.
// It is read-only after loading; the maintenance tooling that edits the
// file lives elsewhere.
type OverrideStore struct {
	variants map[string]*VariantOverrides
}

// NewOverrideStore wraps already-parsed override data. Callers are
// responsible for validating it.
func NewOverrideStore(variants map[string]*VariantOverrides) *OverrideStore {
	if variants == nil {
		variants = map[string]*VariantOverrides{}
	}
	return &OverrideStore{variants: variants}
}

// LoadOverrides reads and validates an override JSON file. An empty path
// yields an empty store, which degrades every override lookup to "none".
func LoadOverrides(path string) (*OverrideStore, error) {
	if path == "" {
		return &OverrideStore{variants: map[string]*VariantOverrides{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading override file %s", path)
	}

	variants := map[string]*VariantOverrides{}
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, errors.Wrap(err, "problem parsing override data")
	}

	store := &OverrideStore{variants: variants}
	if err := store.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid override data")
	}

	return store, nil
}

// Validate checks that every override entry carries at least one
// well-formed ticket reference.
func (s *OverrideStore) Validate() error {
	for variant, overrides := range s.variants {
		if overrides == nil {
			continue
		}
		for test, override := range overrides.Reference {
			if err := validateTickets(override.Ticket); err != nil {
				return errors.Wrapf(err, "reference override for %s on %s", test, variant)
			}
		}
		for test, override := range overrides.NDays {
			if err := validateTickets(override.Ticket); err != nil {
				return errors.Wrapf(err, "ndays override for %s on %s", test, variant)
			}
		}
		for test, override := range overrides.Threshold {
			if err := validateTickets(override.Ticket); err != nil {
				return errors.Wrapf(err, "threshold override for %s on %s", test, variant)
			}
		}
	}

	return nil
}

func validateTickets(tickets []string) error {
	if len(tickets) == 0 {
		return errors.New("override has no ticket")
	}

	for _, ticket := range tickets {
		if !ticketPattern.MatchString(ticket) {
			return errors.Errorf("'%s' is not a valid ticket reference", ticket)
		}
	}

	return nil
}

// Reference returns the substitute baseline reference for a test, or nil.
func (s *OverrideStore) Reference(variant, test string) *ReferenceOverride {
	if overrides := s.variants[variant]; overrides != nil {
		return overrides.Reference[test]
	}
	return nil
}

// NDays returns the substitute n-days reference for a test, or nil.
func (s *OverrideStore) NDays(variant, test string) *ReferenceOverride {
	if overrides := s.variants[variant]; overrides != nil {
		return overrides.NDays[test]
	}
	return nil
}

// Threshold returns the substitute thresholds for a test, or nil.
func (s *OverrideStore) Threshold(variant, test string) *ThresholdOverride {
	if overrides := s.variants[variant]; overrides != nil {
		return overrides.Threshold[test]
	}
	return nil
}
