package trigger

import (
	"strings"

	"github.com/pkg/errors"
)

// Pattern is a compiled document path template like
// "schools/{schoolId}/subjects/{subjectId}/exams/{examId}".
// A segment of the form {name} captures the corresponding path segment;
// every other segment must match literally. Patterns match whole paths only.
type Pattern struct {
	raw      string
	segments []segment
}

type segment struct {
	literal string
	param   string // set when the segment is a {name} capture
}

// Compile parses a path template.
func Compile(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, errors.New("empty pattern")
	}
	parts := strings.Split(raw, "/")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return Pattern{}, errors.Errorf("pattern %q has an empty segment", raw)
		}
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := part[1 : len(part)-1]
			if name == "" {
				return Pattern{}, errors.Errorf("pattern %q has an unnamed parameter", raw)
			}
			segments = append(segments, segment{param: name})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return Pattern{}, errors.Errorf("pattern %q has a malformed segment %q", raw, part)
		}
		segments = append(segments, segment{literal: part})
	}
	return Pattern{raw: raw, segments: segments}, nil
}

// MustCompile is Compile for statically-known patterns.
func MustCompile(raw string) Pattern {
	p, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// Match reports whether path matches the pattern and returns the captured
// parameters.
func (p Pattern) Match(path string) (Params, bool) {
	if len(p.segments) == 0 {
		return nil, false
	}
	parts := strings.Split(path, "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	params := make(Params, 2)
	for i, seg := range p.segments {
		if parts[i] == "" {
			return nil, false
		}
		if seg.param != "" {
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}
