package logger

import (
	nethttp "net/http"
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output.
const DefaultMaskValue = "***"

// FilterConfig lists field and header names whose values must never reach the logs.
type FilterConfig struct {
	// SensitiveFields are matched case-insensitively; "-" and "_" are ignored.
	SensitiveFields []string
	MaskValue       string
}

// DefaultFilterConfig covers credentials that commonly travel in outbound request headers.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "secret",
			"token", "access_token", "refresh_token",
			"api_key", "apikey", "x-api-key",
			"authorization", "proxy-authorization",
			"cookie", "set-cookie",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks sensitive values in strings, header maps and field maps.
type SensitiveDataFilter struct {
	fields map[string]struct{}
	mask   string
}

// NewSensitiveDataFilter builds a filter. A nil config uses DefaultFilterConfig.
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	mask := config.MaskValue
	if mask == "" {
		mask = DefaultMaskValue
	}
	fields := make(map[string]struct{}, len(config.SensitiveFields))
	for _, f := range config.SensitiveFields {
		fields[normalizeKey(f)] = struct{}{}
	}
	return &SensitiveDataFilter{fields: fields, mask: mask}
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "-", "")
	return strings.ReplaceAll(key, "_", "")
}

// IsSensitive reports whether values stored under key must be masked.
func (f *SensitiveDataFilter) IsSensitive(key string) bool {
	_, ok := f.fields[normalizeKey(key)]
	return ok
}

// FilterString masks value when key is sensitive, and strips userinfo from URLs otherwise.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if f.IsSensitive(key) {
		return f.mask
	}
	return f.maskURLCredentials(value)
}

// FilterValue masks sensitive entries of header-like maps. Other values pass through.
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	if f.IsSensitive(key) {
		return f.mask
	}
	switch v := value.(type) {
	case string:
		return f.FilterString(key, v)
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = f.FilterString(k, val)
		}
		return out
	case nethttp.Header:
		return nethttp.Header(f.filterMultiMap(v))
	case map[string][]string:
		return f.filterMultiMap(v)
	case map[string]any:
		return f.FilterFields(v)
	default:
		return value
	}
}

func (f *SensitiveDataFilter) filterMultiMap(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	out := make(map[string][]string, len(m))
	for k, vals := range m {
		if f.IsSensitive(k) {
			out[k] = []string{f.mask}
			continue
		}
		out[k] = vals
	}
	return out
}

// FilterFields returns a copy of fields with sensitive entries masked.
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = f.FilterValue(k, v)
	}
	return out
}

func (f *SensitiveDataFilter) maskURLCredentials(value string) string {
	if !strings.Contains(value, "://") || !strings.Contains(value, "@") {
		return value
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.User == nil {
		return value
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), f.mask)
	}
	return parsed.String()
}
