package constraint

import (
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

// Validator checks one rendered value.
type Validator func(s string) bool

// Registry maps format names to validators. Names are matched case-insensitively
// with spaces, dashes and underscores removed.
type Registry struct {
	mu       sync.RWMutex
	named    map[string]Validator
	patterns map[string]*regexp.Regexp
}

// NewRegistry returns a registry with the built-in formats.
func NewRegistry() *Registry {
	r := &Registry{named: make(map[string]Validator), patterns: make(map[string]*regexp.Regexp)}
	for name, v := range builtin {
		r.named[name] = v
	}
	for alias, name := range aliases {
		r.named[alias] = builtin[name]
	}
	return r
}

// Register adds or replaces a named format.
func (r *Registry) Register(name string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[normalize(name)] = v
}

// Check validates v against format. known is false when the format has no
// validator, in which case ok is meaningless. Lists are checked element-wise,
// and string values of a comma-separated list format are split first.
func (r *Registry) Check(format string, v any) (ok, known bool) {
	valid := r.lookup(format)
	if valid == nil {
		return false, false
	}
	split := listFormat(format)
	for _, el := range Elements(v) {
		s := Text(el)
		parts := []string{s}
		if split {
			parts = strings.Split(s, ",")
		}
		for _, p := range parts {
			if !valid(strings.TrimSpace(p)) {
				return false, true
			}
		}
	}
	return true, true
}

// Known reports whether format has a validator.
func (r *Registry) Known(format string) bool {
	return r.lookup(format) != nil
}

func (r *Registry) lookup(format string) Validator {
	format = strings.TrimSpace(format)
	if format == "" {
		return nil
	}
	if re := r.pattern(format); re != nil {
		return re.MatchString
	}
	if layout, ok := dateLayout(format); ok {
		return func(s string) bool {
			_, err := time.Parse(layout, s)
			return err == nil
		}
	}
	key := normalize(format)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.named[key]; ok {
		return v
	}
	// descriptive names such as "ISO 8601 date" fall back to the first keyword
	// found among their words
	words := nameWords(format)
	for _, kw := range keywords {
		if words[kw.word] {
			return r.named[kw.format]
		}
	}
	return nil
}

var wordSep = regexp.MustCompile(`[^a-z0-9]+`)

// nameWords returns the words of a format name, their singular forms and the
// joins of adjacent words, so "date-time" yields "datetime".
func nameWords(format string) map[string]bool {
	parts := wordSep.Split(strings.ToLower(format), -1)
	words := make(map[string]bool, 3*len(parts))
	for i, w := range parts {
		if w == "" {
			continue
		}
		words[w] = true
		words[strings.TrimSuffix(w, "s")] = true
		if i+1 < len(parts) && parts[i+1] != "" {
			words[w+parts[i+1]] = true
		}
	}
	return words
}

// listFormat reports whether format describes a comma-separated list.
func listFormat(format string) bool {
	words := nameWords(format)
	return words["commaseparated"] || words["list"] || words["csv"]
}

// pattern compiles "regex:<expr>" and anchored "^...$" formats.
func (r *Registry) pattern(format string) *regexp.Regexp {
	var src string
	switch {
	case strings.HasPrefix(strings.ToLower(format), "regex:"):
		src = strings.TrimSpace(format[len("regex:"):])
	case strings.HasPrefix(format, "^") && strings.HasSuffix(format, "$"):
		src = format
	default:
		return nil
	}
	r.mu.RLock()
	re, ok := r.patterns[src]
	r.mu.RUnlock()
	if ok {
		return re
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil
	}
	r.mu.Lock()
	r.patterns[src] = re
	r.mu.Unlock()
	return re
}

var dateTokens = strings.NewReplacer(
	"YYYY", "2006", "yyyy", "2006",
	"MM", "01", "DD", "02", "dd", "02",
	"HH", "15", "hh", "15", "mm", "04", "ss", "05",
)

var dateRun = regexp.MustCompile(`[YyMDdHhms]{2,4}(?:[-/.: T][YyMDdHhms]{2,4})*`)

// dateLayout turns a written layout such as "YYYY-MM-DD" into a Go layout.
// Text around the layout, as in "ISO 8601 YYYY-MM-DD format", is ignored.
func dateLayout(format string) (string, bool) {
	for _, run := range dateRun.FindAllString(format, -1) {
		if strings.Contains(run, "YYYY") || strings.Contains(run, "yyyy") {
			return dateTokens.Replace(run), true
		}
	}
	return "", false
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name)
}

var (
	phoneRe = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{5,19}$`)
	hexRe   = regexp.MustCompile(`^#?(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	zipRe   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 \-]{1,9}$`)
)

var builtin = map[string]Validator{
	"email": func(s string) bool {
		addr, err := mail.ParseAddress(s)
		return err == nil && addr.Address == s
	},
	"url": func(s string) bool {
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	},
	"date":     layoutValidator("2006-01-02"),
	"datetime": anyLayout(time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"),
	"time":     anyLayout("15:04", "15:04:05"),
	"uuid": func(s string) bool {
		_, err := uuid.Parse(s)
		return err == nil
	},
	"ipv4": func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && ip.To4() != nil
	},
	"ipv6": func(s string) bool {
		ip := net.ParseIP(s)
		return ip != nil && ip.To4() == nil
	},
	"ip": func(s string) bool { return net.ParseIP(s) != nil },
	"language": func(s string) bool {
		_, err := language.Parse(s)
		return err == nil
	},
	"country": func(s string) bool {
		_, err := language.ParseRegion(s)
		return err == nil
	},
	"currency": func(s string) bool {
		_, err := currency.ParseISO(s)
		return err == nil
	},
	"integer": func(s string) bool {
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	},
	"number": func(s string) bool {
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	},
	"boolean": func(s string) bool {
		_, err := strconv.ParseBool(s)
		return err == nil
	},
	"latitude":  rangeValidator(-90, 90),
	"longitude": rangeValidator(-180, 180),
	"phone":     phoneRe.MatchString,
	"hexcolor":  hexRe.MatchString,
	"zipcode":   zipRe.MatchString,
}

var aliases = map[string]string{
	"emailaddress":   "email",
	"uri":            "url",
	"link":           "url",
	"isodate":        "date",
	"iso8601":        "datetime",
	"timestamp":      "datetime",
	"ipaddress":      "ip",
	"languagecode":   "language",
	"iso6391":        "language",
	"locale":         "language",
	"countrycode":    "country",
	"iso31661alpha2": "country",
	"currencycode":   "currency",
	"iso4217":        "currency",
	"int":            "integer",
	"float":          "number",
	"decimal":        "number",
	"bool":           "boolean",
	"lat":            "latitude",
	"lng":            "longitude",
	"lon":            "longitude",
	"phonenumber":    "phone",
	"color":          "hexcolor",
	"postalcode":     "zipcode",
	"zip":            "zipcode",
}

var keywords = []struct{ word, format string }{
	{"datetime", "datetime"},
	{"timestamp", "datetime"},
	{"date", "date"},
	{"email", "email"},
	{"uuid", "uuid"},
	{"url", "url"},
	{"uri", "url"},
	{"ipv4", "ipv4"},
	{"ipv6", "ipv6"},
	{"currency", "currency"},
	{"country", "country"},
	{"language", "language"},
	{"locale", "language"},
	{"latitude", "latitude"},
	{"longitude", "longitude"},
	{"phone", "phone"},
	{"postal", "zipcode"},
	{"zipcode", "zipcode"},
	{"hexcolor", "hexcolor"},
}

func layoutValidator(layout string) Validator {
	return func(s string) bool {
		_, err := time.Parse(layout, s)
		return err == nil
	}
}

func anyLayout(layouts ...string) Validator {
	return func(s string) bool {
		for _, l := range layouts {
			if _, err := time.Parse(l, s); err == nil {
				return true
			}
		}
		return false
	}
}

func rangeValidator(lo, hi float64) Validator {
	return func(s string) bool {
		f, err := strconv.ParseFloat(s, 64)
		return err == nil && f >= lo && f <= hi
	}
}
