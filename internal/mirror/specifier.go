package mirror

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PRSpecifier names one explicitly requested upstream pull request, parsed
// from a number or a full pull request URL.
// Owner and Repository are only set when the specifier was a URL, they are
// checked against the configured upstream repository.
type PRSpecifier struct {
	Number     int
	Owner      string
	Repository string
}

var prURLRe = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)/pull/([0-9]+)(?:/.*)?$`)

// ParsePRSpecifier parses an explicit pull request reference.
// Accepted forms: "17", "#17" and "https://github.com/owner/repo/pull/17".
func ParsePRSpecifier(s string) (*PRSpecifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("pull request specifier is empty")
	}

	if matches := prURLRe.FindStringSubmatch(s); matches != nil {
		number, err := strconv.Atoi(matches[3])
		if err != nil {
			return nil, fmt.Errorf("pull request URL contains unparsable number: %q: %w", s, err)
		}

		return &PRSpecifier{
			Number:     number,
			Owner:      matches[1],
			Repository: matches[2],
		}, nil
	}

	number, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || number <= 0 {
		return nil, fmt.Errorf("invalid pull request specifier, expected a number or pull request URL: %q", s)
	}

	return &PRSpecifier{Number: number}, nil
}

func (p *PRSpecifier) String() string {
	if p.Owner == "" {
		return fmt.Sprintf("#%d", p.Number)
	}

	return fmt.Sprintf("%s/%s#%d", p.Owner, p.Repository, p.Number)
}

// matchesRepository reports whether the specifier names the given
// repository. Specifiers without repository information match anything.
func (p *PRSpecifier) matchesRepository(owner, repo string) bool {
	if p.Owner == "" {
		return true
	}

	return strings.EqualFold(p.Owner, owner) && strings.EqualFold(p.Repository, repo)
}
