package render

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
)

// DefaultTimeFormat is used by now when no format is given.
const DefaultTimeFormat = "%Y-%m-%d"

// nowSpecRegex splits "utc + hours=2, minutes=30" into zone, operator and offsets.
var nowSpecRegex = regexp.MustCompile(`^\s*(\S+?)\s*(?:([+-])\s*([a-z]+\s*=.*))?$`)

// offsetUnits maps offset keywords to their duration.
var offsetUnits = map[string]time.Duration{
	"weeks":   7 * 24 * time.Hour,
	"days":    24 * time.Hour,
	"hours":   time.Hour,
	"minutes": time.Minute,
	"seconds": time.Second,
}

func (r *Renderer) funcs(vars map[string]string) template.FuncMap {
	return template.FuncMap{
		"now": r.now,
		"timestamp": func() int64 {
			return r.clock().Unix()
		},
		"var": func(name string) (string, error) {
			v, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("variable %q is not set (known: %s)", name, strings.Join(VarNames(vars), ", "))
			}
			return v, nil
		},
		"varOr": func(name, fallback string) string {
			if v, ok := vars[name]; ok && v != "" {
				return v
			}
			return fallback
		},
		"env": func(name string) string {
			return r.env[name]
		},
		"default": func(fallback string, value any) string {
			s := toString(value)
			if s == "" {
				return fallback
			}
			return s
		},
		"required": func(msg string, value any) (string, error) {
			s := toString(value)
			if s == "" {
				return "", errors.New(msg)
			}
			return s, nil
		},
		"lower":   strings.ToLower,
		"upper":   strings.ToUpper,
		"trim":    strings.TrimSpace,
		"replace": func(from, to, s string) string { return strings.ReplaceAll(s, from, to) },
		"quote":   strconv.Quote,
		"join":    func(sep string, items []string) string { return strings.Join(items, sep) },
		"split":   func(sep, s string) []string { return strings.Split(s, sep) },
		"uuid":    uuid.NewString,
		"shortid": func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// now formats the current time. spec is a zone ("utc", "local" or an IANA
// name) optionally followed by "+ unit=n, ..." or "- unit=n, ...".
func (r *Renderer) now(spec string, format ...string) (string, error) {
	t, err := r.resolveTime(spec)
	if err != nil {
		return "", err
	}

	layout := DefaultTimeFormat
	if len(format) > 0 && format[0] != "" {
		layout = format[0]
	}
	return strftime.Format(layout, t), nil
}

func (r *Renderer) resolveTime(spec string) (time.Time, error) {
	m := nowSpecRegex.FindStringSubmatch(spec)
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid time spec %q", spec)
	}

	loc, err := location(m[1])
	if err != nil {
		return time.Time{}, err
	}
	t := r.clock().In(loc)

	if m[2] == "" {
		return t, nil
	}

	offset, err := parseOffset(m[3])
	if err != nil {
		return time.Time{}, err
	}
	if m[2] == "-" {
		offset = -offset
	}
	return t.Add(offset), nil
}

func location(zone string) (*time.Location, error) {
	switch strings.ToLower(zone) {
	case "utc":
		return time.UTC, nil
	case "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", zone, err)
	}
	return loc, nil
}

// parseOffset parses "hours=2, minutes=30".
func parseOffset(s string) (time.Duration, error) {
	var total time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		unit, value, ok := strings.Cut(part, "=")
		if !ok {
			return 0, fmt.Errorf("invalid offset %q: expected unit=value", part)
		}
		unit = strings.TrimSpace(unit)
		size, known := offsetUnits[unit]
		if !known {
			return 0, fmt.Errorf("unknown offset unit %q", unit)
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid offset value %q for %s", value, unit)
		}
		total += time.Duration(n * float64(size))
	}
	return total, nil
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
