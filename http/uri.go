package http

import (
	"net/url"
	"strconv"
	"strings"
)

// Query is an ordered multimap of query parameters. Keys keep the order of their first
// insertion and every value of a key is emitted in insertion order.
// The zero value is ready to use. A copy is independent: adding to it never changes the
// original, so a template query can be reused across calls.
type Query struct {
	pairs []queryPair
}

type queryPair struct {
	key, value string
}

// NewQuery builds a Query from key/value pairs. A trailing key without a value is ignored.
func NewQuery(pairs ...string) Query {
	var q Query
	for i := 0; i+1 < len(pairs); i += 2 {
		q.Add(pairs[i], pairs[i+1])
	}
	return q
}

// Add appends value to key.
func (q *Query) Add(key, value string) *Query {
	// capped so append always reallocates and copies never share a backing array
	q.pairs = append(q.pairs[:len(q.pairs):len(q.pairs)], queryPair{key: key, value: value})
	return q
}

// Values returns the values of key in insertion order.
func (q Query) Values(key string) []string {
	var out []string
	for _, p := range q.pairs {
		if p.key == key {
			out = append(out, p.value)
		}
	}
	return out
}

// Len returns the number of key/value pairs.
func (q Query) Len() int {
	return len(q.pairs)
}

// Encode renders the query as key=value pairs joined with '&', without a leading '?'.
func (q Query) Encode() string {
	var keys []string
	grouped := make(map[string][]string)
	for _, p := range q.pairs {
		if _, ok := grouped[p.key]; !ok {
			keys = append(keys, p.key)
		}
		grouped[p.key] = append(grouped[p.key], p.value)
	}

	var sb strings.Builder
	for _, k := range keys {
		ek := escapeQueryComponent(k)
		for _, v := range grouped[k] {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(ek)
			sb.WriteByte('=')
			sb.WriteString(escapeQueryComponent(v))
		}
	}
	return sb.String()
}

func escapeQueryComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Endpoint describes the target of a logical request.
type Endpoint struct {
	// BaseURL must start with http:// or https://
	BaseURL string
	// Path may contain {name} placeholders
	Path     string
	PathVars map[string]string
	Query    Query
	// Strict makes an unbound {name} placeholder an InvalidEndpointError instead of
	// passing it through literally.
	Strict bool
}

// URI builds the target URI of the endpoint.
func (e Endpoint) URI() (string, error) {
	uri, err := BuildURI(e.BaseURL, e.Path, e.PathVars, e.Query)
	if err != nil || !e.Strict {
		return uri, err
	}
	if name, ok := firstPlaceholder(e.Path, e.PathVars); ok {
		return "", &InvalidEndpointError{Path: e.Path, Reason: "no value bound for placeholder {" + name + "}"}
	}
	return uri, nil
}

// BuildURI combines baseURL, a path template, path variables and query parameters.
// A query carried by baseURL is kept after the joined path, ahead of the template's own
// query and the query parameters. Placeholders without a binding are left untouched. The base URL and the literal parts
// of the template are not re-encoded; substituted values and query parameters are.
func BuildURI(baseURL, pathTemplate string, pathVars map[string]string, query Query) (string, error) {
	if err := validateBaseURL(baseURL); err != nil {
		return "", err
	}
	for name := range pathVars {
		if name == "" || strings.ContainsAny(name, "{}/") {
			return "", &InvalidEndpointError{Path: pathTemplate, Reason: "invalid path variable name " + strconv.Quote(name)}
		}
	}

	base, baseQuery, _ := strings.Cut(baseURL, "?")

	var sb strings.Builder
	sb.WriteString(joinPath(base, pathTemplate, pathVars))

	if baseQuery != "" {
		if strings.Contains(sb.String(), "?") {
			sb.WriteByte('&')
		} else {
			sb.WriteByte('?')
		}
		sb.WriteString(baseQuery)
	}
	if query.Len() > 0 {
		if strings.Contains(sb.String(), "?") {
			sb.WriteByte('&')
		} else {
			sb.WriteByte('?')
		}
		sb.WriteString(query.Encode())
	}
	return sb.String(), nil
}

func validateBaseURL(baseURL string) error {
	lower := strings.ToLower(baseURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return &InvalidBaseURLError{BaseURL: baseURL, Reason: "base url must include the scheme (http:// or https://)"}
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return &InvalidBaseURLError{BaseURL: baseURL, Reason: err.Error()}
	}
	if parsed.Host == "" {
		return &InvalidBaseURLError{BaseURL: baseURL, Reason: "base url has no host"}
	}
	if strings.Contains(baseURL, "#") {
		return &InvalidBaseURLError{BaseURL: baseURL, Reason: "base url must not carry a fragment"}
	}
	return nil
}

func joinPath(baseURL, pathTemplate string, pathVars map[string]string) string {
	path := substitute(pathTemplate, pathVars)
	switch {
	case path == "":
		return baseURL
	case strings.HasSuffix(baseURL, "/") && strings.HasPrefix(path, "/"):
		return baseURL + path[1:]
	case !strings.HasSuffix(baseURL, "/") && !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "?"):
		return baseURL + "/" + path
	default:
		return baseURL + path
	}
}

// substitute replaces every bound {name} with its escaped value in a single left-to-right
// pass, so substituted values are never scanned again.
func substitute(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	var sb strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end += open
		name := rest[open+1 : end]
		sb.WriteString(rest[:open])
		if value, ok := vars[name]; ok {
			sb.WriteString(url.PathEscape(value))
			rest = rest[end+1:]
			continue
		}
		sb.WriteByte('{')
		rest = rest[open+1:]
	}
}

// firstPlaceholder returns the first {name} in template without a binding.
func firstPlaceholder(template string, vars map[string]string) (string, bool) {
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			return "", false
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", false
		}
		name := rest[open+1 : open+end]
		if _, ok := vars[name]; !ok && name != "" && !strings.Contains(name, "{") {
			return name, true
		}
		rest = rest[open+end+1:]
	}
}
