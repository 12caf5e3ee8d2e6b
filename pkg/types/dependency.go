package types

import (
	"encoding/json"
	"regexp"
	"strings"
)

// DependencyKind tags the inter-dependency variants.
type DependencyKind string

const (
	KindRequires     DependencyKind = "RequireOtherParameters"
	KindAtLeastOne   DependencyKind = "AtLeastOne"
	KindOnlyOne      DependencyKind = "OnlyOne"
	KindAllOrNone    DependencyKind = "AllOrNone"
	KindArithmetic   DependencyKind = "Arithmetic"
	KindUnrecognized DependencyKind = "Unrecognized"
)

// Dependency is a parsed inter-dependency rule. The set of implementations is closed.
type Dependency interface {
	Kind() DependencyKind
	// Names lists every parameter the rule governs, in rule order.
	Names() []string
	isDependency()
}

// Requires: when Governing is present every Dependents entry must be present too.
type Requires struct {
	Governing  string
	Dependents []string
}

// AtLeastOne: one or more of Params must be present.
type AtLeastOne struct{ Params []string }

// OnlyOne: exactly one of Groups may be present.
type OnlyOne struct{ Groups [][]string }

// AllOrNone: Params are present together or not at all.
type AllOrNone struct{ Params []string }

// Arithmetic: Expr must hold over the numeric values of Params.
type Arithmetic struct {
	Expr   string
	Params []string
}

// Unrecognized keeps the governed names of a rule whose relation could not be classified.
type Unrecognized struct{ Params []string }

func (Requires) Kind() DependencyKind     { return KindRequires }
func (AtLeastOne) Kind() DependencyKind   { return KindAtLeastOne }
func (OnlyOne) Kind() DependencyKind      { return KindOnlyOne }
func (AllOrNone) Kind() DependencyKind    { return KindAllOrNone }
func (Arithmetic) Kind() DependencyKind   { return KindArithmetic }
func (Unrecognized) Kind() DependencyKind { return KindUnrecognized }

func (d Requires) Names() []string     { return append([]string{d.Governing}, d.Dependents...) }
func (d AtLeastOne) Names() []string   { return d.Params }
func (d AllOrNone) Names() []string    { return d.Params }
func (d Arithmetic) Names() []string   { return d.Params }
func (d Unrecognized) Names() []string { return d.Params }

func (d OnlyOne) Names() []string {
	var out []string
	for _, g := range d.Groups {
		out = append(out, g...)
	}
	return out
}

func (Requires) isDependency()     {}
func (AtLeastOne) isDependency()   {}
func (OnlyOne) isDependency()      {}
func (AllOrNone) isDependency()    {}
func (Arithmetic) isDependency()   {}
func (Unrecognized) isDependency() {}

// InterDependency is the rule text as written in the artifact plus its parsed form.
type InterDependency struct {
	Text string
	Rule Dependency
}

// NewInterDependency parses text into its rule.
func NewInterDependency(text string) *InterDependency {
	return &InterDependency{Text: text, Rule: ParseDependency(text)}
}

func (d InterDependency) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Text)
}

func (d *InterDependency) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		// some models emit a list of rule strings
		var list []string
		if err2 := json.Unmarshal(data, &list); err2 != nil {
			return err
		}
		text = strings.Join(list, "; ")
	}
	text = strings.TrimSpace(text)
	*d = InterDependency{Text: text, Rule: ParseDependency(text)}
	return nil
}

var (
	identRe      = regexp.MustCompile(`^[A-Za-z_][\w.\[\]\-]*$`)
	exprIdentRe  = regexp.MustCompile(`[A-Za-z_][\w.]*`)
	explicitCmp  = regexp.MustCompile(`([A-Za-z_][\w.]*)\s*(<=|>=|==|!=|<|>)\s*([A-Za-z_][\w.]*|-?\d+(?:\.\d+)?)`)
	phraseCmp    = regexp.MustCompile(`(?i)([A-Za-z_][\w.]*)\s+(?:must|should|has to|needs to)\s+(?:be\s+)?(less than or equal to|greater than or equal to|less than|greater than|smaller than|larger than|equal to|at most|at least|not exceed|no more than|no less than)\s+(?:the\s+)?([A-Za-z_][\w.]*|-?\d+(?:\.\d+)?)`)
	numberRe     = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	exprKeywords = map[string]struct{}{"and": {}, "or": {}, "not": {}, "true": {}, "false": {}, "nil": {}, "in": {}}
)

var phraseOps = map[string]string{
	"less than or equal to":    "<=",
	"greater than or equal to": ">=",
	"less than":                "<",
	"smaller than":             "<",
	"greater than":             ">",
	"larger than":              ">",
	"equal to":                 "==",
	"at most":                  "<=",
	"not exceed":               "<=",
	"no more than":             "<=",
	"at least":                 ">=",
	"no less than":             ">=",
}

// ParseDependency turns rule text into a Dependency. Two shapes are accepted:
// a tagged form ("AllOrNone: [\"a\", \"b\"]") and the extractor's free-text form
// ("a, b: both parameters must be included together"). Text that fits neither
// relation yields Unrecognized.
func ParseDependency(text string) Dependency {
	text = strings.TrimSpace(text)
	head, body, found := strings.Cut(text, ":")
	if !found {
		return Unrecognized{}
	}
	head = strings.TrimSpace(head)
	body = strings.TrimSpace(body)
	if kind, ok := taggedKind(head); ok {
		return parseTagged(kind, body)
	}
	return parseFreeText(splitNames(head), body)
}

func taggedKind(head string) (DependencyKind, bool) {
	for _, k := range []DependencyKind{KindRequires, KindAtLeastOne, KindOnlyOne, KindAllOrNone, KindArithmetic} {
		if strings.EqualFold(head, string(k)) {
			return k, true
		}
	}
	return "", false
}

func parseTagged(kind DependencyKind, body string) Dependency {
	switch kind {
	case KindRequires:
		names := parseNameList(body)
		if len(names) < 2 {
			return Unrecognized{Params: names}
		}
		return Requires{Governing: names[0], Dependents: names[1:]}
	case KindAtLeastOne:
		return AtLeastOne{Params: parseNameList(body)}
	case KindOnlyOne:
		return OnlyOne{Groups: parseGroups(body)}
	case KindAllOrNone:
		return AllOrNone{Params: parseNameList(body)}
	case KindArithmetic:
		return Arithmetic{Expr: body, Params: exprIdents(body, nil)}
	}
	return Unrecognized{}
}

func parseFreeText(names []string, desc string) Dependency {
	if len(names) == 0 {
		return Unrecognized{}
	}
	d := strings.ToLower(desc)
	negated := containsAny(d, "not ", "cannot", "can't", "never", "mutually exclusive")
	switch {
	case containsAny(d, "at most one", "zero or one", "no more than one"):
		return Unrecognized{Params: names}
	case containsAny(d, "all or none", "either all", "all of them or none"):
		return AllOrNone{Params: names}
	case containsAny(d, "only one", "exactly one", "one and only", "mutually exclusive"):
		groups := make([][]string, 0, len(names))
		for _, n := range names {
			groups = append(groups, []string{n})
		}
		return OnlyOne{Groups: groups}
	case containsAny(d, "at least one", "one or more"):
		return AtLeastOne{Params: names}
	case !negated && containsAny(d, "together", "both"):
		return AllOrNone{Params: names}
	}
	if expr, ok := deriveExpr(names, desc); ok {
		return Arithmetic{Expr: expr, Params: exprIdents(expr, names)}
	}
	if containsAny(d, "less than", "greater than", "exceed", "before", "after", "equal or", "combined", "sum of", "total") {
		return Arithmetic{Params: names}
	}
	if len(names) >= 2 && containsAny(d, "if ", "when ", "requires", "required", "must also", "must be provided", "depends on", "only valid with") {
		return Requires{Governing: names[0], Dependents: names[1:]}
	}
	return Unrecognized{Params: names}
}

// deriveExpr recovers a machine-checkable comparison from a free-text description.
func deriveExpr(names []string, desc string) (string, bool) {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	operandOK := func(s string) bool {
		if numberRe.MatchString(s) && numberRe.FindString(s) == s {
			return true
		}
		_, ok := known[s]
		return ok
	}
	d := strings.ToLower(desc)
	if len(names) >= 2 && containsAny(d, "combined", "total", "sum of") && containsAny(d, "exceed", "at most", "no more than") {
		if n := numberRe.FindString(desc); n != "" {
			return strings.Join(names, " + ") + " <= " + n, true
		}
	}
	if m := explicitCmp.FindStringSubmatch(desc); m != nil && operandOK(m[1]) && operandOK(m[3]) {
		return m[1] + " " + m[2] + " " + m[3], true
	}
	if m := phraseCmp.FindStringSubmatch(desc); m != nil && operandOK(m[1]) && operandOK(m[3]) {
		return m[1] + " " + phraseOps[strings.ToLower(m[2])] + " " + m[3], true
	}
	return "", false
}

func parseNameList(body string) []string {
	var list []string
	if err := json.Unmarshal([]byte(body), &list); err == nil {
		return cleanNames(list)
	}
	return splitNames(strings.Trim(body, "[]()"))
}

func parseGroups(body string) [][]string {
	var groups [][]string
	if err := json.Unmarshal([]byte(body), &groups); err == nil {
		out := make([][]string, 0, len(groups))
		for _, g := range groups {
			if g = cleanNames(g); len(g) > 0 {
				out = append(out, g)
			}
		}
		return out
	}
	var out [][]string
	for _, n := range parseNameList(body) {
		out = append(out, []string{n})
	}
	return out
}

func splitNames(head string) []string {
	head = strings.NewReplacer(" and ", ",", " or ", ",", "/", ",", "&", ",", ";", ",").Replace(head)
	return cleanNames(strings.Split(head, ","))
}

func cleanNames(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, n := range in {
		n = strings.Trim(strings.TrimSpace(n), "\"'`")
		if n == "" || !identRe.MatchString(n) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// exprIdents lists identifiers referenced by expr. When names is non-nil only those are kept.
func exprIdents(expr string, names []string) []string {
	var allow map[string]struct{}
	if names != nil {
		allow = make(map[string]struct{}, len(names))
		for _, n := range names {
			allow[n] = struct{}{}
		}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, id := range exprIdentRe.FindAllString(expr, -1) {
		if _, kw := exprKeywords[strings.ToLower(id)]; kw {
			continue
		}
		if allow != nil {
			if _, ok := allow[id]; !ok {
				continue
			}
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
