package policy

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"gopkg.in/yaml.v3"

	"wavedirector.ai/internal/sim/mathx"
)

var (
	ErrUnset     = errors.New("value not set")
	ErrNonFinite = errors.New("non-finite value")
)

// Curve maps a time in seconds to a number.
type Curve interface {
	Eval(t float64) (float64, error)
}

type CurveFunc func(t float64) (float64, error)

func (f CurveFunc) Eval(t float64) (float64, error) { return f(t) }

// Value is either a literal number or a curve over time. The zero Value is unset.
type Value struct {
	set   bool
	lit   float64
	curve Curve
	desc  string
}

func Literal(v float64) Value {
	return Value{set: true, lit: v}
}

func FromCurve(c Curve) Value {
	if c == nil {
		return Value{}
	}
	return Value{set: true, curve: c, desc: "curve"}
}

func (v Value) IsSet() bool   { return v.set }
func (v Value) IsCurve() bool { return v.set && v.curve != nil }

// Eval returns ErrUnset for the zero Value and ErrNonFinite for NaN/Inf results.
func (v Value) Eval(t float64) (float64, error) {
	if !v.set {
		return 0, ErrUnset
	}
	out := v.lit
	if v.curve != nil {
		x, err := v.curve.Eval(t)
		if err != nil {
			return 0, err
		}
		out = x
	}
	if !mathx.Finite(out) {
		return 0, ErrNonFinite
	}
	return out, nil
}

func (v Value) String() string {
	switch {
	case !v.set:
		return "unset"
	case v.curve == nil:
		return strconv.FormatFloat(v.lit, 'g', -1, 64)
	default:
		return v.desc
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.set && v.curve == nil {
		return []byte(strconv.FormatFloat(v.lit, 'g', -1, 64)), nil
	}
	if !v.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(v.desc)), nil
}

// UnmarshalYAML accepts a number, a tengo expression over `t`, or a mapping with
// either `expr` or `points: [[t, v], ...]`.
func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Tag {
		case "!!null":
			*v = Value{}
			return nil
		case "!!int", "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			*v = Literal(f)
			return nil
		default:
			out, err := Expr(n.Value)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			*v = out
			return nil
		}
	case yaml.MappingNode:
		var raw struct {
			Expr   string       `yaml:"expr"`
			Points [][2]float64 `yaml:"points"`
		}
		if err := n.Decode(&raw); err != nil {
			return err
		}
		if strings.TrimSpace(raw.Expr) != "" {
			out, err := Expr(raw.Expr)
			if err != nil {
				return fmt.Errorf("line %d: %w", n.Line, err)
			}
			*v = out
			return nil
		}
		if len(raw.Points) == 0 {
			return fmt.Errorf("line %d: curve needs expr or points", n.Line)
		}
		*v = Keyframes(raw.Points)
		return nil
	default:
		return fmt.Errorf("line %d: unsupported value node", n.Line)
	}
}

type keyframes struct {
	pts [][2]float64
}

// Keyframes builds a piecewise linear curve, held flat before the first and after
// the last point.
func Keyframes(points [][2]float64) Value {
	pts := append([][2]float64(nil), points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i][0] < pts[j][0] })
	return Value{set: true, curve: keyframes{pts: pts}, desc: fmt.Sprintf("points(%d)", len(pts))}
}

func (k keyframes) Eval(t float64) (float64, error) {
	if len(k.pts) == 0 {
		return 0, ErrUnset
	}
	if t <= k.pts[0][0] {
		return k.pts[0][1], nil
	}
	last := k.pts[len(k.pts)-1]
	if t >= last[0] {
		return last[1], nil
	}
	for i := 1; i < len(k.pts); i++ {
		a, b := k.pts[i-1], k.pts[i]
		if t > b[0] {
			continue
		}
		span := b[0] - a[0]
		if span <= 0 {
			return b[1], nil
		}
		f := (t - a[0]) / span
		return a[1] + (b[1]-a[1])*f, nil
	}
	return last[1], nil
}

const exprPrelude = "math := import(\"math\")\n__out := "

type exprCurve struct {
	src string

	mu       sync.Mutex
	compiled *tengo.Compiled
}

// Expr compiles a tengo expression over the variable `t` (seconds). The tengo
// math module is available as `math`.
func Expr(src string) (Value, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return Value{}, fmt.Errorf("empty expression")
	}
	script := tengo.NewScript([]byte(exprPrelude + "(" + src + ")"))
	script.SetImports(stdlib.GetModuleMap("math"))
	if err := script.Add("t", 0.0); err != nil {
		return Value{}, err
	}
	compiled, err := script.Compile()
	if err != nil {
		return Value{}, fmt.Errorf("expr %q: %w", src, err)
	}
	return Value{set: true, curve: &exprCurve{src: src, compiled: compiled}, desc: "expr(" + src + ")"}, nil
}

func (c *exprCurve) Eval(t float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.compiled.Set("t", t); err != nil {
		return 0, err
	}
	if err := c.compiled.Run(); err != nil {
		return 0, fmt.Errorf("expr %q: %w", c.src, err)
	}
	switch x := c.compiled.Get("__out").Value().(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expr %q: result is %T, want number", c.src, x)
	}
}

// Resolver evaluates Values and absorbs every fault (error, panic, non-finite)
// into the caller's default.
type Resolver struct {
	Log     *log.Logger
	OnFault func(label string, err error)
}

func (r Resolver) Eval(label string, v Value, t float64, def float64) (out float64, ok bool) {
	if !v.IsSet() {
		return def, false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.fault(label, t, fmt.Errorf("panic: %v", rec))
			out, ok = def, false
		}
	}()
	x, err := v.Eval(t)
	if err != nil {
		r.fault(label, t, err)
		return def, false
	}
	return x, true
}

func (r Resolver) fault(label string, t float64, err error) {
	logger := r.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	logger.Printf("resolver: %s t=%.2f err=%v", label, t, err)
	if r.OnFault != nil {
		r.OnFault(label, err)
	}
}

// ParseValue decodes a Value from YAML or JSON text: a number, an expression
// string, a {expr|points} mapping, or null for unset.
func ParseValue(b []byte) (Value, error) {
	var v Value
	if err := yaml.Unmarshal(b, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}
