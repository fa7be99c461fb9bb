package params

import (
	"encoding/json"
	"strconv"

	"github.com/gtdb/ani-engine/pkg/jsonutil"
	"github.com/gtdb/ani-engine/pkg/models"
)

// FastANIParams are the canonical parameters of fastANI.
type FastANIParams struct {
	Kmer        *int     `json:"kmer,omitempty"`
	FragLen     *int     `json:"fragLen,omitempty"`
	MinFraction *float64 `json:"minFraction,omitempty"`
}

func (p *FastANIParams) Family() models.ToolFamily { return models.FamilyFastANI }

func (p *FastANIParams) IsNull() bool {
	return p.Kmer == nil && p.FragLen == nil && p.MinFraction == nil
}

type fastANIDefaultValues struct {
	kmer, fragLen int
	minFraction   float64
}

var fastANIDefaults = fastANIDefaultValues{kmer: 16, fragLen: 3000, minFraction: 0.2}

func (d fastANIDefaultValues) asMap() map[string]any {
	return map[string]any{
		"kmer":        d.kmer,
		"fragLen":     d.fragLen,
		"minFraction": d.minFraction,
	}
}

// maxKmer is the largest k-mer size fastANI accepts.
const maxKmer = 16

func canonicalFastANI(raw map[string]json.RawMessage) (Params, error) {
	p := &FastANIParams{}

	var err error
	if p.Kmer, err = positiveInt(raw, "kmer"); err != nil {
		return nil, err
	}
	if p.Kmer != nil && *p.Kmer > maxKmer {
		return nil, contradiction("kmer", "must be at most %d", maxKmer)
	}
	if p.FragLen, err = positiveInt(raw, "fragLen"); err != nil {
		return nil, err
	}

	v, ok, err := jsonutil.FlexibleFloat(raw["minFraction"])
	if err != nil {
		return nil, contradiction("minFraction", "%v", err)
	}
	if ok {
		if v < 0 || v > 1 {
			return nil, contradiction("minFraction", "must be between 0 and 1")
		}
		p.MinFraction = floatPtr(v)
	}

	if p.Kmer != nil && *p.Kmer == fastANIDefaults.kmer {
		p.Kmer = nil
	}
	if p.FragLen != nil && *p.FragLen == fastANIDefaults.fragLen {
		p.FragLen = nil
	}
	if p.MinFraction != nil && *p.MinFraction == fastANIDefaults.minFraction {
		p.MinFraction = nil
	}

	return p, nil
}

// fastANIArgs builds the fastANI argv for one comparison.
func fastANIArgs(p *FastANIParams, query, reference, output string) []string {
	args := []string{"-q", query, "-r", reference, "-o", output}
	if p.Kmer != nil {
		args = append(args, "--kmer", strconv.Itoa(*p.Kmer))
	}
	if p.FragLen != nil {
		args = append(args, "--fragLen", strconv.Itoa(*p.FragLen))
	}
	if p.MinFraction != nil {
		args = append(args, "--minFraction", formatFloat(*p.MinFraction))
	}
	return args
}
