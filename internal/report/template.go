package report

import (
	"regexp"
	"strconv"
)

// Value is a typed template value: either a string or a number.
type Value struct {
	str   string
	num   float64
	isNum bool
}

// String wraps s as a template value.
func String(s string) Value { return Value{str: s} }

// Number wraps f as a template value.
func Number(f float64) Value { return Value{num: f, isNum: true} }

// String renders the value. Numbers use the shortest exact decimal form,
// so 7 renders as "7" and 7.5 as "7.5".
func (v Value) String() string {
	if v.isNum {
		return FormatNumber(v.num)
	}
	return v.str
}

// FormatNumber renders f without exponent or trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Fields maps placeholder names to values.
type Fields map[string]Value

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// Render replaces every {{name}} in tmpl whose name is present in fields.
// Placeholders with no matching field are left verbatim. Substitution is a
// single pass: text inserted from a value is never expanded again.
func Render(tmpl string, fields Fields) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := match[2 : len(match)-2]
		v, ok := fields[name]
		if !ok {
			return match
		}
		return v.String()
	})
}
