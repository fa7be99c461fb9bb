package worker

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gtdb/ani-engine/pkg/models"
)

// Comparison is one parsed tool result in percent. All nil means the pair
// fell below the tool's reporting threshold.
type Comparison struct {
	ANI   *float64
	AFQry *float64
	AFRef *float64
}

// Values converts a comparison to integer hundredths.
func (c Comparison) Values() models.PairValues {
	conv := func(v *float64) *int32 {
		if v == nil {
			return nil
		}
		h := models.Hundredths(*v)
		return &h
	}
	return models.PairValues{ANI: conv(c.ANI), AFQry: conv(c.AFQry), AFRef: conv(c.AFRef)}
}

// ParseOutput parses the output file of the given tool family.
func ParseOutput(family models.ToolFamily, r io.Reader) (Comparison, error) {
	switch family {
	case models.FamilySkani:
		return parseSkani(r)
	case models.FamilyFastANI:
		return parseFastANI(r)
	}
	return Comparison{}, fmt.Errorf("no output parser for tool family %q", family)
}

// dataLines returns the non-blank lines of r.
func dataLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tool output: %w", err)
	}
	return lines, nil
}

// parseSkani reads skani dist output: a header row, then
// Ref_file, Query_file, ANI, Align_fraction_ref, Align_fraction_query, ...
func parseSkani(r io.Reader) (Comparison, error) {
	lines, err := dataLines(r)
	if err != nil {
		return Comparison{}, err
	}
	if len(lines) > 0 && strings.HasPrefix(lines[0], "Ref_file") {
		lines = lines[1:]
	}
	if len(lines) == 0 {
		return Comparison{}, nil
	}
	if len(lines) > 1 {
		return Comparison{}, fmt.Errorf("expected one skani result row, got %d", len(lines))
	}

	fields := strings.Split(lines[0], "\t")
	if len(fields) < 5 {
		return Comparison{}, fmt.Errorf("skani result row has %d columns, expected at least 5", len(fields))
	}

	ani, err := parsePercent("ANI", fields[2])
	if err != nil {
		return Comparison{}, err
	}
	afRef, err := parsePercent("Align_fraction_ref", fields[3])
	if err != nil {
		return Comparison{}, err
	}
	afQry, err := parsePercent("Align_fraction_query", fields[4])
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{ANI: &ani, AFQry: &afQry, AFRef: &afRef}, nil
}

// parseFastANI reads fastANI output: query, reference, ANI, mapped and
// total fragment counts. The query alignment fraction is mapped/total.
func parseFastANI(r io.Reader) (Comparison, error) {
	lines, err := dataLines(r)
	if err != nil {
		return Comparison{}, err
	}
	if len(lines) == 0 {
		return Comparison{}, nil
	}
	if len(lines) > 1 {
		return Comparison{}, fmt.Errorf("expected one fastANI result row, got %d", len(lines))
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 5 {
		return Comparison{}, fmt.Errorf("fastANI result row has %d columns, expected 5", len(fields))
	}

	ani, err := parsePercent("ANI", fields[2])
	if err != nil {
		return Comparison{}, err
	}
	mapped, err := strconv.Atoi(fields[3])
	if err != nil {
		return Comparison{}, fmt.Errorf("malformed mapped fragment count %q", fields[3])
	}
	total, err := strconv.Atoi(fields[4])
	if err != nil || total <= 0 {
		return Comparison{}, fmt.Errorf("malformed total fragment count %q", fields[4])
	}

	af := float64(mapped) / float64(total) * 100
	return Comparison{ANI: &ani, AFQry: &af}, nil
}

func parsePercent(column, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed %s value %q", column, s)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("%s value %v out of range", column, v)
	}
	return v, nil
}
