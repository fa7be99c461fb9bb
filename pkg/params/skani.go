package params

import (
	"encoding/json"
	"strconv"

	"github.com/gtdb/ani-engine/pkg/jsonutil"
	"github.com/gtdb/ani-engine/pkg/models"
)

// SkaniPreset is a skani speed/sensitivity preset.
type SkaniPreset string

const (
	PresetFast         SkaniPreset = "fast"
	PresetMedium       SkaniPreset = "medium"
	PresetSlow         SkaniPreset = "slow"
	PresetSmallGenomes SkaniPreset = "small-genomes"
)

// SkaniParams are the canonical parameters of skani dist.
type SkaniParams struct {
	Preset                  *SkaniPreset `json:"preset,omitempty"`
	CompressionFactor       *int         `json:"c,omitempty"`
	MarkerCompressionFactor *int         `json:"m,omitempty"`
	ScreenThreshold         *float64     `json:"s,omitempty"`
	MinAF                   *float64     `json:"minAf,omitempty"`
	FasterSmall             *bool        `json:"fasterSmall,omitempty"`
	NoLearnedANI            *bool        `json:"noLearnedAni,omitempty"`
	Robust                  *bool        `json:"robust,omitempty"`
	Median                  *bool        `json:"median,omitempty"`
	NoMarkerIndex           *bool        `json:"noMarkerIndex,omitempty"`
}

func (p *SkaniParams) Family() models.ToolFamily { return models.FamilySkani }

func (p *SkaniParams) IsNull() bool {
	return p.Preset == nil && p.CompressionFactor == nil && p.MarkerCompressionFactor == nil &&
		p.ScreenThreshold == nil && p.MinAF == nil && p.FasterSmall == nil &&
		p.NoLearnedANI == nil && p.Robust == nil && p.Median == nil && p.NoMarkerIndex == nil
}

type skaniDefaultValues struct {
	c, m     int
	s, minAF float64
}

var skaniDefaults = skaniDefaultValues{c: 125, m: 1000, s: 80, minAF: 15}

func (d skaniDefaultValues) asMap() map[string]any {
	return map[string]any{
		"preset":        nil,
		"c":             d.c,
		"m":             d.m,
		"s":             d.s,
		"minAf":         d.minAF,
		"fasterSmall":   false,
		"noLearnedAni":  false,
		"robust":        false,
		"median":        false,
		"noMarkerIndex": false,
	}
}

func canonicalSkani(raw map[string]json.RawMessage, mode models.CalcMode) (Params, error) {
	p := &SkaniParams{}

	if v := jsonutil.FlexibleStringValue(raw["preset"]); v != "" && v != "none" {
		preset := SkaniPreset(v)
		switch preset {
		case PresetFast, PresetMedium, PresetSlow, PresetSmallGenomes:
			p.Preset = &preset
		default:
			return nil, contradiction("preset", "unknown preset %q", v)
		}
	}

	var err error
	if p.CompressionFactor, err = positiveInt(raw, "c"); err != nil {
		return nil, err
	}
	if p.MarkerCompressionFactor, err = positiveInt(raw, "m"); err != nil {
		return nil, err
	}
	if p.ScreenThreshold, err = percent(raw, "s"); err != nil {
		return nil, err
	}
	if p.MinAF, err = percent(raw, "minAf"); err != nil {
		return nil, err
	}
	for name, dst := range map[string]**bool{
		"fasterSmall":   &p.FasterSmall,
		"noLearnedAni":  &p.NoLearnedANI,
		"robust":        &p.Robust,
		"median":        &p.Median,
		"noMarkerIndex": &p.NoMarkerIndex,
	} {
		if *dst, err = flag(raw, name); err != nil {
			return nil, err
		}
	}

	if isTrue(p.Robust) && isTrue(p.Median) {
		return nil, contradiction("robust", "robust and median are mutually exclusive")
	}

	// Presets imply the compression settings.
	if p.Preset != nil {
		p.CompressionFactor = nil
		if *p.Preset == PresetSmallGenomes {
			p.MarkerCompressionFactor = nil
			p.FasterSmall = nil
		}
	}

	if p.CompressionFactor != nil && *p.CompressionFactor == skaniDefaults.c {
		p.CompressionFactor = nil
	}
	if p.MarkerCompressionFactor != nil && *p.MarkerCompressionFactor == skaniDefaults.m {
		p.MarkerCompressionFactor = nil
	}
	if p.ScreenThreshold != nil && *p.ScreenThreshold == skaniDefaults.s {
		p.ScreenThreshold = nil
	}
	if p.MinAF != nil && *p.MinAF == skaniDefaults.minAF {
		p.MinAF = nil
	}
	for _, f := range []**bool{&p.FasterSmall, &p.NoLearnedANI, &p.Robust, &p.Median, &p.NoMarkerIndex} {
		if *f != nil && !**f {
			*f = nil
		}
	}

	if mode == models.ModeTriangle {
		p.NoMarkerIndex = nil
	}

	return p, nil
}

// skaniArgs builds the skani dist argv for one comparison.
func skaniArgs(p *SkaniParams, query, reference, output string) []string {
	args := []string{"dist", "-q", query, "-r", reference, "-o", output, "-t", "1"}
	if p.Preset != nil {
		args = append(args, "--"+string(*p.Preset))
	}
	if p.CompressionFactor != nil {
		args = append(args, "-c", strconv.Itoa(*p.CompressionFactor))
	}
	if p.MarkerCompressionFactor != nil {
		args = append(args, "-m", strconv.Itoa(*p.MarkerCompressionFactor))
	}
	if p.ScreenThreshold != nil {
		args = append(args, "-s", formatFloat(*p.ScreenThreshold))
	}
	if p.MinAF != nil {
		args = append(args, "--min-af", formatFloat(*p.MinAF))
	}
	if isTrue(p.FasterSmall) {
		args = append(args, "--faster-small")
	}
	if isTrue(p.NoLearnedANI) {
		args = append(args, "--no-learned-ani")
	}
	if isTrue(p.Robust) {
		args = append(args, "--robust")
	}
	if isTrue(p.Median) {
		args = append(args, "--median")
	}
	if isTrue(p.NoMarkerIndex) {
		args = append(args, "--no-marker-index")
	}
	return args
}
