package brain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DependencyVersions is the set of versions an artifact's
// dependency_fingerprint is hashed over (spec.md §4.8: "hash of
// {config_version, ruleset_version, scenario_version,
// session_state_version}").
type DependencyVersions struct {
	ConfigVersion       int    `json:"config_version"`
	RulesetVersion      int    `json:"ruleset_version"`
	ScenarioVersion     int    `json:"scenario_version"`
	SessionStateVersion int    `json:"session_state_version"`
}

// InputFingerprint hashes normalized phase inputs. Callers are responsible
// for normalizing input (e.g. stable key ordering) before passing it here
// since the hash is only as deterministic as its input's encoding.
func InputFingerprint(normalizedInput any) (string, error) {
	return hashJSON(normalizedInput)
}

// DependencyFingerprint hashes the dependency version set (spec.md §4.8).
func DependencyFingerprint(deps DependencyVersions) (string, error) {
	return hashJSON(deps)
}

func hashJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint encode: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintsMatch reports whether artifact remains valid for reuse given
// the current input and dependency fingerprints (spec.md §4.8 "if an
// artifact's fingerprints still match under current inputs/deps, skip the
// phase"). The fingerprint pair is encoded as "input:dependency" in
// PhaseArtifact.Fingerprint.
func FingerprintsMatch(artifactFingerprint, currentInputFP, currentDepFP string) bool {
	return artifactFingerprint == combine(currentInputFP, currentDepFP)
}

// CombineFingerprint builds the stored Fingerprint value for a fresh
// PhaseArtifact.
func CombineFingerprint(inputFP, depFP string) string {
	return combine(inputFP, depFP)
}

func combine(inputFP, depFP string) string {
	return inputFP + ":" + depFP
}
