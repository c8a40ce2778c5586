package engagement

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultReadMinutes is used when a read-time hint cannot be parsed.
const DefaultReadMinutes = 5

// readTimePattern matches one "<number><unit>" component. The unit is the
// whole letter run after the number so unknown words are never mistaken for
// minutes.
var readTimePattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*-?\s*([a-z]+)?`)

type durationUnit int

const (
	unitNone durationUnit = iota
	unitHours
	unitMinutes
	unitSeconds
	unitUnknown
)

func (u durationUnit) seconds() float64 {
	switch u {
	case unitHours:
		return 3600
	case unitMinutes:
		return 60
	case unitSeconds:
		return 1
	default:
		return 0
	}
}

func classifyUnit(word string) durationUnit {
	switch word {
	case "":
		return unitNone
	case "h", "hr", "hrs", "hour", "hours":
		return unitHours
	case "m", "min", "mins", "minute", "minutes":
		return unitMinutes
	case "s", "sec", "secs", "second", "seconds":
		return unitSeconds
	default:
		return unitUnknown
	}
}

// nextComponent decides how a component following prev is read. Only an
// explicit hour or minute component can be continued, by a smaller unit
// separated by whitespace or by a bare number written straight after it
// ("1h30", "2m30").
func nextComponent(prev, unit durationUnit, gap string) durationUnit {
	if prev != unitHours && prev != unitMinutes {
		return unitUnknown
	}
	if unit == unitNone {
		if gap != "" {
			return unitUnknown
		}
		return prev + 1
	}
	if unit == unitUnknown || unit <= prev || strings.TrimSpace(gap) != "" {
		return unitUnknown
	}
	return unit
}

// ParseReadTime extracts a whole number of minutes from free text such as
// "5 min read", "12 minutes", "1.5 hr", "45 sec" or "1h30m". Compound
// components are summed and partial minutes round up. A bare number means
// minutes. Hints with an unknown unit, no number, or a non-positive total
// yield fallback (DefaultReadMinutes when fallback <= 0).
func ParseReadTime(hint string, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultReadMinutes
	}
	text := strings.ToLower(hint)
	matches := readTimePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return fallback
	}

	var total float64
	prev, prevEnd := unitNone, 0
	for i, m := range matches {
		word := ""
		if m[4] >= 0 {
			word = text[m[4]:m[5]]
		}
		unit := classifyUnit(word)
		if i > 0 {
			unit = nextComponent(prev, unit, text[prevEnd:m[0]])
			if unit == unitUnknown {
				break
			}
		}
		switch unit {
		case unitUnknown:
			return fallback
		case unitNone:
			unit = unitMinutes
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(text[m[2]:m[3]], ",", "."), 64)
		if err != nil || math.IsInf(value, 0) {
			return fallback
		}
		total += value * unit.seconds()
		prev, prevEnd = unit, m[1]
		if i == 0 && word == "" {
			prev = unitNone
		}
	}

	// Tolerate float error such as 0.1h landing a hair above 6 minutes.
	minutes := int(math.Ceil(total/60 - 1e-9))
	if minutes <= 0 {
		return fallback
	}
	return minutes
}
