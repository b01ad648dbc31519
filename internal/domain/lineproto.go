package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMeasurement is used when a sink does not configure its own.
const DefaultMeasurement = "hid"

const (
	maxStringField = 2048
	truncatedKeep  = 2010
)

// ErrMalformedLine is returned by ParseLine for input that is not a single
// "<measurement> <field>=<value> <timestamp>" line.
var ErrMalformedLine = errors.New("domain: malformed line")

// Point is a decoded line-protocol line.
type Point struct {
	Measurement string
	Field       string
	Value       any
	Timestamp   int64
}

// Line renders the sample as "<measurement> <field>=<value> <timestamp_ms>".
func (s Sample) Line(measurement string) (string, error) {
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	field := s.Label()
	if field == "" {
		return "", ErrUnnamedSample
	}
	v, err := normalizeValue(s.Value)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(measurement) + len(field) + 32)
	b.WriteString(escape(measurement, ", "))
	b.WriteByte(' ')
	b.WriteString(escape(field, ",= "))
	b.WriteByte('=')
	switch val := v.(type) {
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
		b.WriteByte('i')
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		b.WriteByte('"')
		b.WriteString(escapeString(truncate(val)))
		b.WriteByte('"')
	}
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(s.Timestamp, 10))
	return b.String(), nil
}

// ParseLine decodes a single line produced by Sample.Line.
func ParseLine(line string) (Point, error) {
	line = strings.TrimRight(line, "\r\n")
	var p Point

	end := indexUnescaped(line, ' ', 0)
	if end <= 0 {
		return p, fmt.Errorf("%w: missing measurement in %q", ErrMalformedLine, line)
	}
	p.Measurement = unescape(line[:end])

	rest := line[end+1:]
	eq := indexUnescaped(rest, '=', 0)
	if eq <= 0 {
		return p, fmt.Errorf("%w: missing field in %q", ErrMalformedLine, line)
	}
	p.Field = unescape(rest[:eq])
	rest = rest[eq+1:]

	var raw string
	if strings.HasPrefix(rest, `"`) {
		closing := indexUnescaped(rest, '"', 1)
		if closing < 0 {
			return p, fmt.Errorf("%w: unterminated string in %q", ErrMalformedLine, line)
		}
		p.Value = unescape(rest[1:closing])
		rest = rest[closing+1:]
	} else {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return p, fmt.Errorf("%w: missing timestamp in %q", ErrMalformedLine, line)
		}
		raw, rest = rest[:sp], rest[sp:]
		v, err := parseFieldValue(raw)
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		p.Value = v
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil {
		return p, fmt.Errorf("%w: bad timestamp in %q", ErrMalformedLine, line)
	}
	p.Timestamp = ts
	return p, nil
}

func parseFieldValue(raw string) (any, error) {
	switch raw {
	case "t", "T", "true", "True", "TRUE":
		return true, nil
	case "f", "F", "false", "False", "FALSE":
		return false, nil
	}
	if strings.HasSuffix(raw, "i") {
		return strconv.ParseInt(strings.TrimSuffix(raw, "i"), 10, 64)
	}
	return strconv.ParseFloat(raw, 64)
}

// escape backslash-escapes the runes in special. Line breaks are always
// written as \n and \r so one sample stays one line.
func escape(s, special string) string {
	if !strings.ContainsAny(s, special+"\n\r") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case strings.ContainsRune(special, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var stringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)

func escapeString(s string) string {
	if !strings.ContainsAny(s, "\"\\\n\r") {
		return s
	}
	return stringEscaper.Replace(s)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch c = s[i]; c {
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func indexUnescaped(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case c:
			return i
		}
	}
	return -1
}

// truncate caps long string fields the way the Influx writer always has.
func truncate(v string) string {
	if len(v) <= maxStringField {
		return v
	}
	cut := truncatedKeep
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut] + "... (" + strconv.Itoa(len(v)) + " bytes original)"
}
