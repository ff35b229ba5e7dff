// Package predicate implements the cacheability gates and key extractors
// that the FSM runs on request and response subjects, per spec.md §4.1's
// contracts section and the Predicate/Extractor glossary entries.
//
// Grounded on pkg/utils/pattern.go's MatchPattern (exact / prefix / glob
// fallback to cached regex) for the pattern-matching building block, and
// generalized to the typed Subject[B]/Predicate[B]/Extractor[B] contract
// the FSM needs.
package predicate

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/hitboxcache/hitbox/body"
	"github.com/hitboxcache/hitbox/hitboxkey"
)

// Subject is whatever a predicate inspects: a method/path plus a body
// envelope it must hand back (possibly reconstructed after a prefix
// read), per spec.md §4.1 "predicates ... must return the body they
// inspected".
type Subject[B io.Reader] struct {
	Method     string
	Path       string
	StatusCode int // zero for requests
	Body       body.BufferedBody[B]
}

// Verdict is the result of a Predicate check: the subject, returned
// unconditionally, and whether it is cacheable.
type Verdict[B io.Reader] struct {
	Subject   Subject[B]
	Cacheable bool
}

// Predicate decides cacheability for a Subject and must return the
// subject (including its, possibly reconstructed, body) regardless of
// verdict.
type Predicate[B io.Reader] func(s Subject[B]) (Verdict[B], error)

// Extractor produces CacheKey parts from a Subject; the FSM assembles
// them into a full Key with the policy-supplied prefix and version.
type Extractor[B io.Reader] func(s Subject[B]) (Subject[B], []hitboxkey.Part, error)

// And runs predicates in order; the subject flows through each (so later
// predicates see any body reconstruction from earlier ones). Short-
// circuits NonCacheable, still returning the latest subject.
func And[B io.Reader](preds ...Predicate[B]) Predicate[B] {
	return func(s Subject[B]) (Verdict[B], error) {
		for _, p := range preds {
			v, err := p(s)
			if err != nil {
				return Verdict[B]{Subject: v.Subject}, err
			}
			s = v.Subject
			if !v.Cacheable {
				return Verdict[B]{Subject: s, Cacheable: false}, nil
			}
		}
		return Verdict[B]{Subject: s, Cacheable: true}, nil
	}
}

// MethodPredicate admits only subjects whose Method is in allowed.
func MethodPredicate[B io.Reader](allowed ...string) Predicate[B] {
	set := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		set[strings.ToUpper(m)] = struct{}{}
	}
	return func(s Subject[B]) (Verdict[B], error) {
		_, ok := set[strings.ToUpper(s.Method)]
		return Verdict[B]{Subject: s, Cacheable: ok}, nil
	}
}

// StatusCodePredicate admits only response subjects whose StatusCode
// falls in [min, max]. Supplements the distilled spec (which only names
// request/response predicates abstractly); grounded on the status-code
// cacheability gate from original_source's middleware layer.
func StatusCodePredicate[B io.Reader](min, max int) Predicate[B] {
	return func(s Subject[B]) (Verdict[B], error) {
		ok := s.StatusCode >= min && s.StatusCode <= max
		return Verdict[B]{Subject: s, Cacheable: ok}, nil
	}
}

// PathPredicate admits subjects whose Path matches pattern, using the
// same exact/prefix/glob-regex matching rules as MatchPattern.
func PathPredicate[B io.Reader](pattern string) Predicate[B] {
	return func(s Subject[B]) (Verdict[B], error) {
		ok, err := MatchPattern(pattern, s.Path)
		if err != nil {
			return Verdict[B]{Subject: s}, err
		}
		return Verdict[B]{Subject: s, Cacheable: ok}, nil
	}
}

// regexCache caches compiled glob-derived regexes, thread-safe via
// sync.Map.
var regexCache sync.Map

// MatchPattern reports whether key matches pattern:
//   - exact: pattern == key
//   - prefix: pattern ending in a single trailing "*"
//   - "*" alone: matches anything
//   - otherwise, if pattern contains '*' or '?': glob compiled to a cached
//     regex
//   - otherwise: pattern itself compiled as an anchored, cached regex
func MatchPattern(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("predicate: pattern cannot be empty")
	}
	if pattern == key {
		return true, nil
	}
	if pattern == "*" {
		return true, nil
	}
	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*") {
		return strings.HasPrefix(key, pattern[:len(pattern)-1]), nil
	}

	regexPattern := pattern
	if strings.ContainsAny(pattern, "*?") {
		regexPattern = globToRegex(pattern)
	}

	if cached, ok := regexCache.Load(regexPattern); ok {
		return cached.(*regexp.Regexp).MatchString(key), nil
	}
	re, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return false, fmt.Errorf("predicate: invalid pattern: %w", err)
	}
	regexCache.Store(regexPattern, re)
	return re.MatchString(key), nil
}

func globToRegex(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) * 2)
	for i := 0; i < len(pattern); i++ {
		switch ch := pattern[i]; ch {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// PathExtractor builds key parts from the subject's method and path,
// leaving the body untouched — the common case for HTTP-shaped caches.
func PathExtractor[B io.Reader]() Extractor[B] {
	return func(s Subject[B]) (Subject[B], []hitboxkey.Part, error) {
		parts := []hitboxkey.Part{
			hitboxkey.NewPart("method", strings.ToUpper(s.Method)),
			hitboxkey.NewPart("path", s.Path),
		}
		return s, parts, nil
	}
}

// BodyContainsPredicate admits subjects whose body, scanned chunk-
// boundary-safely, contains pattern. The subject's body is returned
// reconstructed as required by the Predicate contract.
func BodyContainsPredicate[B io.Reader](pattern string) Predicate[B] {
	return func(s Subject[B]) (Verdict[B], error) {
		found, rebuilt, err := body.ScanContains(s.Body, []byte(pattern))
		s.Body = rebuilt
		if err != nil {
			return Verdict[B]{Subject: s}, err
		}
		return Verdict[B]{Subject: s, Cacheable: found}, nil
	}
}
