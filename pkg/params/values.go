package params

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gtdb/ani-engine/pkg/jsonutil"
)

// Args builds the argv for comparing query against reference, writing to output.
func Args(p Params, query, reference, output string) ([]string, error) {
	switch v := p.(type) {
	case *SkaniParams:
		return skaniArgs(v, query, reference, output), nil
	case *FastANIParams:
		return fastANIArgs(v, query, reference, output), nil
	}
	return nil, fmt.Errorf("unsupported parameter type %T", p)
}

func positiveInt(raw map[string]json.RawMessage, name string) (*int, error) {
	v, ok, err := jsonutil.FlexibleInt(raw[name])
	if err != nil {
		return nil, contradiction(name, "%v", err)
	}
	if !ok {
		return nil, nil
	}
	if v <= 0 {
		return nil, contradiction(name, "must be positive")
	}
	return intPtr(v), nil
}

func percent(raw map[string]json.RawMessage, name string) (*float64, error) {
	v, ok, err := jsonutil.FlexibleFloat(raw[name])
	if err != nil {
		return nil, contradiction(name, "%v", err)
	}
	if !ok {
		return nil, nil
	}
	if v < 0 || v > 100 {
		return nil, contradiction(name, "must be between 0 and 100")
	}
	return floatPtr(v), nil
}

func flag(raw map[string]json.RawMessage, name string) (*bool, error) {
	v, ok, err := jsonutil.FlexibleBool(raw[name])
	if err != nil {
		return nil, contradiction(name, "%v", err)
	}
	if !ok {
		return nil, nil
	}
	return boolPtr(v), nil
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
