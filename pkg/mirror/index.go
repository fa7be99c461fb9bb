package mirror

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gtdb/ani-engine/pkg/models"
)

var md5Pattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseIndex reads a mirror index listing of "accession<TAB>md5<TAB>url" lines.
// Blank lines and lines starting with '#' are skipped.
func ParseIndex(r io.Reader) ([]models.MirrorEntry, error) {
	var entries []models.MirrorEntry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 tab-separated fields, got %d", line, len(fields))
		}
		accession := strings.TrimSpace(fields[0])
		md5 := strings.ToLower(strings.TrimSpace(fields[1]))
		url := strings.TrimSpace(fields[2])

		if _, err := RelPath(accession); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !md5Pattern.MatchString(md5) {
			return nil, fmt.Errorf("line %d: malformed md5 %q", line, md5)
		}
		if url == "" {
			return nil, fmt.Errorf("line %d: empty source URL", line)
		}

		entries = append(entries, models.MirrorEntry{Accession: accession, MD5: md5, URL: url})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mirror index: %w", err)
	}
	return entries, nil
}
