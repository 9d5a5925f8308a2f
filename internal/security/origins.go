package security

import (
	"errors"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

func ParseCSV(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		s := strings.TrimSpace(r)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeOrigins reduces each entry to scheme://host[:port] in lower case.
// "*" is kept as is and allows every origin.
func NormalizeOrigins(origins []string) ([]string, error) {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			out = append(out, o)
			continue
		}
		u, err := url.Parse(o)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("invalid origin: " + o)
		}
		out = append(out, strings.ToLower(u.Scheme+"://"+u.Host))
	}
	return lo.Uniq(out), nil
}

// OriginAllowed reports whether a request Origin header passes the allow
// list. An empty list allows everything, and so does a missing header
// (non-browser clients do not send one).
func OriginAllowed(origin string, allowed []string) bool {
	origin = strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
	if origin == "" || len(allowed) == 0 {
		return true
	}
	return lo.Contains(allowed, "*") || lo.Contains(allowed, origin)
}
