package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"
	"github.com/vjeantet/jodaTime"
)

// TimeParser reads the text form of a timestamp. Text without a zone is
// interpreted in loc.
type TimeParser func(text string, loc *time.Location) (time.Time, error)

// jodaLetters are the pattern letters accepted in Java style patterns
const jodaLetters = "yYMdDHhkKmsSaEzZ"

// strftimeDirectives are the conversions accepted after '%'
const strftimeDirectives = "YymdejHIklMSfpbhBaAzZFTDR%"

// patternCheckTime is formatted and parsed back to validate a pattern
var patternCheckTime = time.Date(2006, time.January, 2, 15, 4, 5, 123456789, time.UTC)

// NewTimeParser returns a parser for a timestamp pattern. Patterns
// containing '%' are strftime, everything else Java style letters
// (yyyy-MM-dd HH:mm:ss.SSS).
func NewTimeParser(pattern string) (TimeParser, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if strings.Contains(pattern, "%") {
		return strftimeParser(pattern)
	}
	return jodaParser(pattern)
}

func strftimeParser(pattern string) (TimeParser, error) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '%' {
			continue
		}
		if i+1 == len(pattern) {
			return nil, fmt.Errorf("pattern %q: trailing %%", pattern)
		}
		i++
		if !strings.ContainsRune(strftimeDirectives, rune(pattern[i])) {
			return nil, fmt.Errorf("pattern %q: unsupported directive %%%c", pattern, pattern[i])
		}
	}

	parse := func(text string, loc *time.Location) (time.Time, error) {
		return timefmt.ParseInLocation(text, pattern, loc)
	}
	if _, err := parse(timefmt.Format(patternCheckTime, pattern), time.UTC); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return parse, nil
}

func jodaParser(pattern string) (TimeParser, error) {
	hasZone := false
	quoted := false
	for _, r := range pattern {
		switch {
		case r == '\'':
			quoted = !quoted
		case quoted || !isLetter(r):
		case strings.ContainsRune(jodaLetters, r):
			hasZone = hasZone || r == 'z' || r == 'Z'
		default:
			return nil, fmt.Errorf("pattern %q: unsupported pattern letter %q", pattern, r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", pattern)
	}

	parse := func(text string, loc *time.Location) (time.Time, error) {
		t, err := jodaTime.Parse(pattern, text)
		if err != nil || hasZone {
			return t, err
		}
		// no zone in the text: the parsed wall clock belongs to loc
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	if _, err := parse(jodaTime.Format(pattern, patternCheckTime), time.UTC); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return parse, nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
