package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// rulesFile mirrors rules.yaml.
type rulesFile struct {
	CatalogConcept string `yaml:"catalog_concept"`
	MaleMarker     string `yaml:"male_marker"`
	AgeRules       []struct {
		Pattern string `yaml:"pattern"`
		Bucket  string `yaml:"bucket"`
	} `yaml:"age_rules"`
	Collapse  map[string]string `yaml:"collapse"`
	Partition struct {
		Children []string `yaml:"children"`
		Adults   []string `yaml:"adults"`
	} `yaml:"partition"`
	Ethnicity struct {
		Variables map[string]string `yaml:"variables"`
		Keep      []string          `yaml:"keep"`
		Other     string            `yaml:"other"`
	} `yaml:"ethnicity"`
	Household struct {
		Households          string `yaml:"households"`
		FamilyHouseholds    string `yaml:"family_households"`
		NonfamilyHouseholds string `yaml:"nonfamily_households"`
		AverageSize         string `yaml:"average_size"`
	} `yaml:"household"`
	States []struct {
		FIPS string `yaml:"fips"`
		Abbr string `yaml:"abbr"`
		Name string `yaml:"name"`
	} `yaml:"states"`
}

// LoadRules reads the rule tables from path, or the embedded defaults when
// path is empty, and compiles them into validated domain rules.
func LoadRules(path string) (*domain.Rules, error) {
	data := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		data = b
	}
	return ParseRules(data)
}

// ParseRules compiles a YAML rules document.
func ParseRules(data []byte) (*domain.Rules, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	ageRules := make([]domain.AgeRule, 0, len(f.AgeRules))
	for i, r := range f.AgeRules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("age rule %d (%s): %w", i, r.Bucket, err)
		}
		ageRules = append(ageRules, domain.AgeRule{Pattern: re, Bucket: r.Bucket})
	}
	parser, err := domain.NewLabelParser(f.MaleMarker, ageRules, f.Collapse)
	if err != nil {
		return nil, err
	}

	states := make([]domain.State, 0, len(f.States))
	for _, s := range f.States {
		states = append(states, domain.State{FIPS: s.FIPS, Abbr: s.Abbr, Name: s.Name})
	}

	rules := &domain.Rules{
		CatalogConcept: f.CatalogConcept,
		Labels:         parser,
		Ethnicity:      domain.LabelMap(f.Ethnicity.Variables),
		EthnicityPolicy: domain.EthnicityPolicy{
			Keep:  f.Ethnicity.Keep,
			Other: f.Ethnicity.Other,
		},
		Household: domain.HouseholdVariables{
			Households:          f.Household.Households,
			FamilyHouseholds:    f.Household.FamilyHouseholds,
			NonfamilyHouseholds: f.Household.NonfamilyHouseholds,
			AverageSize:         f.Household.AverageSize,
		},
		Partition: domain.AgePartition{
			Children: f.Partition.Children,
			Adults:   f.Partition.Adults,
		},
		States: states,
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	return rules, nil
}
