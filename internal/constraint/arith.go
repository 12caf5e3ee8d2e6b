package constraint

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrNotApplicable means an arithmetic rule could not be evaluated for a call:
// a referenced parameter is absent or non-numeric, or the expression is unusable.
var ErrNotApplicable = errors.New("arithmetic rule not applicable")

// Evaluator compiles and runs arithmetic comparisons over parameter values.
// Compiled programs are cached by expression.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]compiled
}

type compiled struct {
	program *vm.Program
	slots   map[string]string // parameter name -> expr identifier
	err     error
}

func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]compiled)}
}

// Eval reports whether expression holds for params. Every name in names must be
// present and numeric, otherwise ErrNotApplicable is returned.
func (e *Evaluator) Eval(expression string, names []string, params map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" || len(names) == 0 {
		return false, fmt.Errorf("%w: no expression", ErrNotApplicable)
	}
	c := e.compile(expression, names)
	if c.err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotApplicable, c.err)
	}
	env := make(map[string]any, len(c.slots))
	for name, slot := range c.slots {
		raw, ok := params[name]
		if !ok {
			return false, fmt.Errorf("%w: %s missing", ErrNotApplicable, name)
		}
		f, ok := Numeric(raw)
		if !ok {
			return false, fmt.Errorf("%w: %s is not numeric", ErrNotApplicable, name)
		}
		env[slot] = f
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotApplicable, err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: result %T", ErrNotApplicable, out)
	}
	return b, nil
}

func (e *Evaluator) compile(expression string, names []string) compiled {
	key := expression + "\x00" + strings.Join(names, "\x00")
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cache[key]; ok {
		return c
	}
	rewritten, slots := bindNames(expression, names)
	env := make(map[string]any, len(slots))
	for _, slot := range slots {
		env[slot] = float64(0)
	}
	program, err := expr.Compile(rewritten, expr.Env(env), expr.AsBool())
	c := compiled{program: program, slots: slots, err: err}
	e.cache[key] = c
	return c
}

// bindNames replaces parameter names in expression with plain identifiers so names
// containing dots or dashes survive compilation. Longer names are bound first.
func bindNames(expression string, names []string) (string, map[string]string) {
	ordered := append([]string(nil), names...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })
	slots := make(map[string]string, len(ordered))
	out := expression
	for i, name := range ordered {
		if name == "" {
			continue
		}
		re := regexp.MustCompile(`(^|[^\w.])` + regexp.QuoteMeta(name) + `($|[^\w.])`)
		if !re.MatchString(out) {
			continue
		}
		slot := fmt.Sprintf("_p%d", i)
		slots[name] = slot
		// a second pass catches adjacent occurrences sharing a boundary character
		for pass := 0; pass < 2; pass++ {
			out = re.ReplaceAllString(out, "${1}"+slot+"${2}")
		}
	}
	return out, slots
}
