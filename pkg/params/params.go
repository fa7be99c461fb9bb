// Package params canonicalises tool-version specific ANI parameters.
//
// A submitted parameter object is reduced to a canonical form: parameters that
// are implied by a preset, equal to the documented default, or meaningless in
// the job's calculation mode are unset. Two submissions describing the same
// logical configuration therefore intern to the same parameter record.
package params

import (
	"encoding/json"
	"fmt"

	"github.com/gtdb/ani-engine/pkg/models"
)

// Params is the canonical parameter set of one tool family.
// Variants are *SkaniParams and *FastANIParams. A nil field is unset.
type Params interface {
	Family() models.ToolFamily
	// IsNull reports whether every parameter is unset.
	IsNull() bool
}

// versionSpec lists the parameters a tool version defines.
type versionSpec struct {
	family  models.ToolFamily
	allowed map[string]bool
}

var (
	skaniNames   = []string{"preset", "c", "m", "s", "minAf", "fasterSmall", "noLearnedAni", "robust", "median", "noMarkerIndex"}
	fastANINames = []string{"kmer", "fragLen", "minFraction"}
)

var versions = map[models.ToolVersion]versionSpec{
	"skani_0.2.1":  {family: models.FamilySkani, allowed: set(skaniNames...)},
	"skani_0.2.2":  {family: models.FamilySkani, allowed: set(skaniNames...)},
	"fastani_1.32": {family: models.FamilyFastANI, allowed: set(fastANINames...)},
	"fastani_1.33": {family: models.FamilyFastANI, allowed: set(fastANINames...)},
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Known reports whether version is a tool version this package can canonicalise.
func Known(version models.ToolVersion) bool {
	_, ok := versions[version]
	return ok
}

// ContradictionError is returned when a parameter object cannot be canonicalised.
type ContradictionError struct {
	Param  string
	Reason string
}

func (e *ContradictionError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

func contradiction(param, format string, args ...any) error {
	return &ContradictionError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// Canonicalize reduces a raw parameter object to its canonical form:
//  1. only parameters defined for the version are kept;
//  2. parameters implied by a chosen preset are unset;
//  3. parameters equal to the version default are unset;
//  4. in triangle mode the marker-index flag is unset.
//
// A result with every parameter unset is the null configuration.
func Canonicalize(version models.ToolVersion, mode models.CalcMode, raw map[string]json.RawMessage) (Params, error) {
	spec, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("unknown tool version %q", version)
	}

	selected := make(map[string]json.RawMessage, len(raw))
	for name, value := range raw {
		if spec.allowed[name] {
			selected[name] = value
		}
	}

	switch spec.family {
	case models.FamilySkani:
		return canonicalSkani(selected, mode)
	case models.FamilyFastANI:
		return canonicalFastANI(selected)
	}
	return nil, fmt.Errorf("tool version %q has no parameter model", version)
}

// Marshal encodes canonical parameters for interning. The null configuration is "{}".
func Marshal(p Params) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Decode restores canonical parameters stored for version.
func Decode(version models.ToolVersion, data []byte) (Params, error) {
	spec, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("unknown tool version %q", version)
	}
	if len(data) == 0 {
		data = []byte("{}")
	}

	var p Params
	switch spec.family {
	case models.FamilySkani:
		p = &SkaniParams{}
	case models.FamilyFastANI:
		p = &FastANIParams{}
	default:
		return nil, fmt.Errorf("tool version %q has no parameter model", version)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s parameters: %w", version, err)
	}
	return p, nil
}

// Program describes a supported tool version for the configuration surface.
type Program struct {
	Version  models.ToolVersion `json:"version"`
	Family   models.ToolFamily  `json:"family"`
	Defaults map[string]any     `json:"defaults"`
}

// Programs describes the given versions, skipping unknown ones.
func Programs(supported []string) []Program {
	var out []Program
	for _, v := range supported {
		version := models.ToolVersion(v)
		spec, ok := versions[version]
		if !ok {
			continue
		}
		var defaults map[string]any
		switch spec.family {
		case models.FamilySkani:
			defaults = skaniDefaults.asMap()
		case models.FamilyFastANI:
			defaults = fastANIDefaults.asMap()
		}
		out = append(out, Program{Version: version, Family: spec.family, Defaults: defaults})
	}
	return out
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
