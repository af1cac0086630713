package mqttmux

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	sharePrefix         = "$share/"
)

// TopicPattern is a parsed, immutable topic filter.
// Equality is structural: two patterns are equal when all levels are equal.
type TopicPattern struct {
	raw       string
	levels    []string
	shareName string
	filterAt  int // index of the first filter level, past a $share prefix
}

// ParseTopicPattern parses and validates a topic filter.
// The single-level wildcard (+) must occupy a whole level. The multi-level
// wildcard (#) must occupy a whole level and be the last one. Shared
// subscriptions ($share/{ShareName}/{filter}) are accepted.
// MQTT v5.0 spec: Sections 4.7.1 and 4.8.2
func ParseTopicPattern(pattern string) (TopicPattern, error) {
	if pattern == "" {
		return TopicPattern{}, malformed(pattern, "pattern is empty")
	}

	if !utf8.ValidString(pattern) {
		return TopicPattern{}, malformed(pattern, "pattern is not valid UTF-8")
	}

	if strings.ContainsRune(pattern, 0) {
		return TopicPattern{}, malformed(pattern, "pattern contains a null character")
	}

	levels := strings.Split(pattern, string(topicSeparator))
	p := TopicPattern{raw: pattern, levels: levels}

	if strings.HasPrefix(pattern, sharePrefix) {
		if len(levels) < 3 {
			return TopicPattern{}, malformed(pattern, "shared subscription requires a share name and a filter")
		}
		p.shareName = levels[1]
		p.filterAt = 2
		if p.shareName == "" || strings.ContainsAny(p.shareName, "+#") {
			return TopicPattern{}, malformed(pattern, "invalid share name")
		}
		if strings.Join(levels[2:], string(topicSeparator)) == "" {
			return TopicPattern{}, malformed(pattern, "shared subscription requires a filter")
		}
	}

	filterLevels := levels[p.filterAt:]
	for i, level := range filterLevels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return TopicPattern{}, malformed(pattern, "single-level wildcard must occupy an entire level")
		}

		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard {
				return TopicPattern{}, malformed(pattern, "multi-level wildcard must occupy an entire level")
			}
			if i != len(filterLevels)-1 {
				return TopicPattern{}, malformed(pattern, "multi-level wildcard must be the last level")
			}
		}
	}

	return p, nil
}

// MustParseTopicPattern is like ParseTopicPattern but panics on error.
func MustParseTopicPattern(pattern string) TopicPattern {
	p, err := ParseTopicPattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func malformed(pattern, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrMalformedPattern, pattern, reason)
}

// String returns the pattern as it was registered.
func (p TopicPattern) String() string {
	return p.raw
}

// IsZero reports whether the pattern was never parsed.
func (p TopicPattern) IsZero() bool {
	return p.raw == ""
}

// Levels returns a copy of the pattern levels, including any $share prefix.
func (p TopicPattern) Levels() []string {
	out := make([]string, len(p.levels))
	copy(out, p.levels)
	return out
}

// Equal reports whether both patterns have identical levels.
func (p TopicPattern) Equal(other TopicPattern) bool {
	if len(p.levels) != len(other.levels) {
		return false
	}
	for i := range p.levels {
		if p.levels[i] != other.levels[i] {
			return false
		}
	}
	return true
}

// HasWildcard reports whether the filter part contains + or #.
func (p TopicPattern) HasWildcard() bool {
	for _, level := range p.levels[p.filterAt:] {
		if level == singleLevelWildcard || level == multiLevelWildcard {
			return true
		}
	}
	return false
}

// Shared returns the share name when the pattern is a shared subscription.
func (p TopicPattern) Shared() (string, bool) {
	return p.shareName, p.shareName != ""
}

// Filter returns the filter part without any $share/{ShareName}/ prefix.
// This is the part a broker matches topics against.
func (p TopicPattern) Filter() string {
	if p.filterAt == 0 {
		return p.raw
	}
	return strings.Join(p.levels[p.filterAt:], string(topicSeparator))
}

// ValidateTopicName validates a topic name used for publishing.
// Topic names cannot contain wildcards and must be valid UTF-8.
// MQTT v5.0 spec: Section 4.7.1
func ValidateTopicName(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is empty", ErrInvalidTopic)
	}

	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidTopic, topic)
	}

	if strings.ContainsRune(topic, 0) || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}

	return nil
}

// TopicMatch checks if a topic name matches a topic filter.
// Connector implementations use it to emulate broker-side matching; the
// dispatcher itself relies on subscription identifiers only.
// MQTT v5.0 spec: Section 4.7
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	// $-prefixed topics don't match wildcards at the root level
	if topic[0] == '$' && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for fi < flen {
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		if flevel == multiLevelWildcard {
			return true
		}

		if ti > tlen {
			return false
		}

		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		if flevel != singleLevelWildcard && flevel != tlevel {
			return false
		}

		fi++
		ti++
	}

	return ti > tlen
}
