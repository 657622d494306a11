// Package store persists per-unit artifacts under a deterministic directory
// layout:
//
//	{root}/{artifact}/{stateAbbr}/{unitCode}_{artifact}.{ext}
//
// where root is {baseDir}/{kind}. Every write replaces the canonical file
// atomically, so a file present under its canonical name is complete.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

// Artifact names a persisted dataset.
type Artifact = domain.Artifact

const (
	Population = domain.ArtifactPopulation
	Household  = domain.ArtifactHousehold
	AgeGender  = domain.ArtifactAgeGender
)

const reportsDir = "reports"

// ErrNotFound is returned by loaders when a unit has no artifact on disk.
var ErrNotFound = domain.ErrArtifactNotFound

// Store writes and reads unit artifacts. It is safe for concurrent use:
// writes for distinct units touch distinct files, and writes for the same
// unit race only on the final rename.
type Store struct {
	root    string
	kind    domain.Kind
	formats map[Artifact]Format
	permF   os.FileMode
	permD   os.FileMode
	logger  *slog.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithFormat overrides the encoding of one artifact.
func WithFormat(a Artifact, f Format) Option {
	return func(s *Store) { s.formats[a] = f }
}

// New opens the store for kind under baseDir, creating the root directory
// and verifying that it is writable.
func New(baseDir string, kind domain.Kind, logger *slog.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("store: base directory is required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("store: %w: %d", domain.ErrInvalidGeographyKind, int(kind))
	}
	s := &Store{
		root: filepath.Join(baseDir, kind.String()),
		kind: kind,
		formats: map[Artifact]Format{
			Population: Gob,
			Household:  Gob,
			AgeGender:  CSV,
		},
		permF:  0o644,
		permD:  0o755,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	for a, f := range s.formats {
		if !f.valid() {
			return nil, fmt.Errorf("store: %s: unsupported format %q", a, f)
		}
		if f == CSV && a == Population {
			return nil, fmt.Errorf("store: %s holds two tables and cannot be csv", a)
		}
	}

	if err := os.MkdirAll(s.root, s.permD); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", s.root, err)
	}
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("store: %s is not writable: %w", s.root, err)
	}
	probe.Close()
	_ = os.Remove(probe.Name())
	return s, nil
}

// Root is the kind-specific root directory.
func (s *Store) Root() string { return s.root }

// Path returns the canonical file path of artifact a for unit.
func (s *Store) Path(a Artifact, unit domain.GeographyUnit) string {
	name := fmt.Sprintf("%s_%s.%s", unit.Code, a, s.formats[a].Ext())
	return filepath.Join(s.root, string(a), unit.StateAbbr, name)
}

// WritePopulation persists the unit's population bundle.
func (s *Store) WritePopulation(ctx context.Context, unit domain.GeographyUnit, b domain.PopulationBundle) error {
	return s.write(ctx, Population, unit, map[string]Table{
		tableAgeGender: ageGenderTable(b.AgeGender),
		tableEthnicity: ethnicityTable(b.Ethnicity),
	})
}

// WriteAgeGender persists the age/gender side file used by the household
// join.
func (s *Store) WriteAgeGender(ctx context.Context, unit domain.GeographyUnit, records []domain.AgeGenderRecord) error {
	return s.write(ctx, AgeGender, unit, map[string]Table{tableAgeGender: ageGenderTable(records)})
}

// WriteHousehold persists the unit's household summary.
func (s *Store) WriteHousehold(ctx context.Context, unit domain.GeographyUnit, summary domain.HouseholdSummary) error {
	return s.write(ctx, Household, unit, map[string]Table{tableHousehold: householdTable(summary)})
}

// RemoveUnit deletes every artifact of unit. Missing files are not an error.
func (s *Store) RemoveUnit(unit domain.GeographyUnit) error {
	var errs []error
	for _, a := range []Artifact{Population, AgeGender, Household} {
		if err := os.Remove(s.Path(a, unit)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) write(ctx context.Context, a Artifact, unit domain.GeographyUnit, tables map[string]Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if unit.Kind != s.kind {
		return fmt.Errorf("write %s %s: %w: store holds %s", a, unit, domain.ErrInvalidGeographyKind, s.kind)
	}
	if unit.StateAbbr == "" || unit.Code == "" || strings.ContainsAny(unit.Code+unit.StateAbbr, `/\.`) {
		return fmt.Errorf("write %s: invalid unit address %q/%q", a, unit.StateAbbr, unit.Code)
	}

	var buf bytes.Buffer
	if err := encodeTables(&buf, s.formats[a], tables); err != nil {
		return fmt.Errorf("encode %s %s: %w", a, unit, err)
	}
	dest := s.Path(a, unit)
	if err := writeAtomic(ctx, dest, buf.Bytes(), s.permF, s.permD); err != nil {
		return fmt.Errorf("write %s %s: %w", a, unit, err)
	}
	s.logger.Debug("artifact written", "artifact", string(a), "unit", unit.String(), "path", dest)
	return nil
}

func (s *Store) load(a Artifact, unit domain.GeographyUnit, name string) (map[string]Table, error) {
	path := s.Path(a, unit)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s %s: %w", a, unit, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", a, unit, err)
	}
	tables, err := decodeTables(bytes.NewReader(data), s.formats[a], name)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return tables, nil
}

func lookup(tables map[string]Table, name string) (Table, error) {
	t, ok := tables[name]
	if !ok {
		return Table{}, fmt.Errorf("missing table %q (have %v)", name, tableNames(tables))
	}
	return t, nil
}

// LoadPopulation reads a persisted population bundle.
func (s *Store) LoadPopulation(unit domain.GeographyUnit) (domain.PopulationBundle, error) {
	tables, err := s.load(Population, unit, tableAgeGender)
	if err != nil {
		return domain.PopulationBundle{}, err
	}
	ag, err := lookup(tables, tableAgeGender)
	if err != nil {
		return domain.PopulationBundle{}, err
	}
	eth, err := lookup(tables, tableEthnicity)
	if err != nil {
		return domain.PopulationBundle{}, err
	}

	var b domain.PopulationBundle
	if b.AgeGender, err = ageGenderRecords(ag); err != nil {
		return domain.PopulationBundle{}, err
	}
	if b.Ethnicity, err = ethnicityRecords(eth); err != nil {
		return domain.PopulationBundle{}, err
	}
	return b, nil
}

// LoadAgeGender reads a persisted age/gender side file.
func (s *Store) LoadAgeGender(unit domain.GeographyUnit) ([]domain.AgeGenderRecord, error) {
	tables, err := s.load(AgeGender, unit, tableAgeGender)
	if err != nil {
		return nil, err
	}
	t, err := lookup(tables, tableAgeGender)
	if err != nil {
		return nil, err
	}
	return ageGenderRecords(t)
}

// LoadHousehold reads a persisted household summary.
func (s *Store) LoadHousehold(unit domain.GeographyUnit) (domain.HouseholdSummary, error) {
	tables, err := s.load(Household, unit, tableHousehold)
	if err != nil {
		return domain.HouseholdSummary{}, err
	}
	t, err := lookup(tables, tableHousehold)
	if err != nil {
		return domain.HouseholdSummary{}, err
	}
	return householdSummary(t)
}

// ListStates returns the state abbreviations that have artifact a on disk.
func (s *Store) ListStates(a Artifact) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(a)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var states []string
	for _, e := range entries {
		if e.IsDir() {
			states = append(states, e.Name())
		}
	}
	return states, nil
}

// ListUnitCodes returns the codes of the units in stateAbbr that have
// artifact a on disk, sorted. Temp files from interrupted writes are
// ignored.
func (s *Store) ListUnitCodes(a Artifact, stateAbbr string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, string(a), stateAbbr))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	suffix := fmt.Sprintf("_%s.%s", a, s.formats[a].Ext())
	var codes []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, suffix) {
			continue
		}
		codes = append(codes, strings.TrimSuffix(name, suffix))
	}
	slices.Sort(codes)
	return codes, nil
}

// Unit rebuilds the address of a unit listed by ListUnitCodes.
func (s *Store) Unit(state domain.State, code string) domain.GeographyUnit {
	return domain.GeographyUnit{Kind: s.kind, Code: code, StateFIPS: state.FIPS, StateAbbr: state.Abbr}
}

// WriteReport persists a run report as JSON under {root}/reports.
func (s *Store) WriteReport(ctx context.Context, runID string, report any) (string, error) {
	var buf bytes.Buffer
	if err := encodeJSON(&buf, report); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	dest := filepath.Join(s.root, reportsDir, runID+".json")
	if err := writeAtomic(ctx, dest, buf.Bytes(), s.permF, s.permD); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return dest, nil
}
