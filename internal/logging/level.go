// Package logging builds the structured loggers of nginx-ofp.
//
// Loggers are configured with a spec of the form
//
//	<level>[,<component>=<level>]...
//
// where the component is the value of the "component" attribute attached by
// each package to its logger (dispatch, userstack, engine, console, ...).
package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Level extends the slog levels with a trace level.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = Level(slog.LevelDebug)
	LevelInfo  Level = Level(slog.LevelInfo)
	LevelWarn  Level = Level(slog.LevelWarn)
	LevelError Level = Level(slog.LevelError)
)

// ParseLevel parses one of trace, debug, info, warn or error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "err":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

func (l Level) Slog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// Spec is a base level with per-component overrides.
type Spec struct {
	Level      Level
	Components map[string]Level
}

// ParseSpec parses a log spec. The base level, when present, must come first;
// an empty spec logs at the info level.
func ParseSpec(s string) (Spec, error) {
	spec := Spec{Level: LevelInfo, Components: make(map[string]Level)}

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		component, level, found := strings.Cut(part, "=")
		if !found {
			if i != 0 {
				return spec, fmt.Errorf("base level %q must be first in log spec", part)
			}
			l, err := ParseLevel(part)
			if err != nil {
				return spec, err
			}
			spec.Level = l
			continue
		}
		component = strings.TrimSpace(component)
		if component == "" {
			return spec, fmt.Errorf("empty component name in %q", part)
		}
		l, err := ParseLevel(level)
		if err != nil {
			return spec, fmt.Errorf("component %s: %w", component, err)
		}
		spec.Components[component] = l
	}
	return spec, nil
}

// LevelFor returns the level of a component.
func (s *Spec) LevelFor(component string) Level {
	if l, ok := s.Components[component]; ok {
		return l
	}
	return s.Level
}
