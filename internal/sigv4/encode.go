package sigv4

import (
	"net/url"
	"sort"
	"strings"
)

// uriEncode applies RFC 3986 percent-encoding. Only unreserved characters pass through.
func uriEncode(value string, keepSlash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && keepSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	return uriEncode(path, true)
}

// EncodeQuery renders query exactly as it is signed, so the wire query and the
// canonical request agree. Spaces become %20, never "+".
func EncodeQuery(query url.Values) string {
	return canonicalQuery(query)
}

func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(query))
	for key, values := range query {
		encodedKey := uriEncode(key, false)
		if len(values) == 0 {
			pairs = append(pairs, pair{key: encodedKey})
			continue
		}
		for _, value := range values {
			pairs = append(pairs, pair{key: encodedKey, value: uriEncode(value, false)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

func canonicalHeaderValue(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
