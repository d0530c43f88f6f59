package forward

import (
	"path"
	"regexp"
	"strings"

	"github.com/eleven-am/ferry/internal/domain"
)

// Matcher checks request paths against exclusion patterns. Evaluation
// order is fixed: exact, then glob, then regex.
type Matcher struct {
	exact   map[string]struct{}
	globs   []string
	regexps []*regexp.Regexp
}

func NewMatcher(exact, globs, regexes []string) (*Matcher, error) {
	m := &Matcher{exact: make(map[string]struct{}, len(exact))}
	for _, p := range exact {
		m.exact[p] = struct{}{}
	}
	for _, g := range globs {
		if _, err := path.Match(strings.ReplaceAll(g, "**", "*"), "/"); err != nil {
			return nil, domain.NewConfigError("forwarding.excluded_glob", "invalid pattern %q: %v", g, err)
		}
		m.globs = append(m.globs, g)
	}
	for _, r := range regexes {
		re, err := regexp.Compile(r)
		if err != nil {
			return nil, domain.NewConfigError("forwarding.excluded_regex", "invalid pattern %q: %v", r, err)
		}
		m.regexps = append(m.regexps, re)
	}
	return m, nil
}

func NewMatcherFromSettings(cfg domain.ForwardingSettings) (*Matcher, error) {
	return NewMatcher(cfg.ExcludedExact, cfg.ExcludedGlob, cfg.ExcludedRegex)
}

func (m *Matcher) Excluded(requestPath string) bool {
	if _, ok := m.exact[requestPath]; ok {
		return true
	}
	for _, g := range m.globs {
		if globMatch(g, requestPath) {
			return true
		}
	}
	for _, re := range m.regexps {
		if re.MatchString(requestPath) {
			return true
		}
	}
	return false
}

// globMatch handles single-segment patterns with path.Match and treats
// "**" as matching across segment boundaries.
func globMatch(pattern, p string) bool {
	if !strings.Contains(pattern, "**") {
		ok, err := path.Match(pattern, p)
		return err == nil && ok
	}
	if ok, err := path.Match(strings.ReplaceAll(pattern, "**", "*"), p); err == nil && ok {
		return true
	}
	base := strings.TrimSuffix(strings.SplitN(pattern, "**", 2)[0], "/")
	return base != "" && strings.HasPrefix(p, base)
}
