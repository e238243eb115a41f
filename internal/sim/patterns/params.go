package patterns

import (
	"strconv"
	"strings"

	"wavedirector.ai/internal/sim/mathx"
)

// Params are the pattern-specific knobs from the policy file. YAML numbers
// arrive as int or float64, JSON numbers as float64.
type Params map[string]any

func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if !mathx.Finite(f) {
		return def
	}
	return f
}

func (p Params) Int(key string, def int) int {
	f := p.Float(key, float64(def))
	if f > 1<<30 {
		return 1 << 30
	}
	if f < -(1 << 30) {
		return -(1 << 30)
	}
	return int(f)
}

func (p Params) String(key, def string) string {
	if s, ok := p[key].(string); ok && s != "" {
		return s
	}
	return def
}
