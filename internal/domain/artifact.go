package domain

import "errors"

// Artifact names a persisted per-unit dataset. It is both a directory and a
// file suffix in the output tree.
type Artifact string

const (
	ArtifactPopulation Artifact = "population"
	ArtifactHousehold  Artifact = "household"
	ArtifactAgeGender  Artifact = "age_gender"
)

// ErrArtifactNotFound is returned when a unit has no artifact on disk.
var ErrArtifactNotFound = errors.New("artifact not found")
