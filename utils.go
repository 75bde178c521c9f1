package federation

import (
	"fmt"
	"strings"
)

// ParseTypeTag splits a wire type tag into type and subType. Only the
// first colon is significant.
func ParseTypeTag(tag string) (string, string) {
	t, st, _ := strings.Cut(tag, ":")
	return t, st
}

// ComposeTypeTag joins type and subType into a wire tag. Colons are
// forbidden inside subType so decoding stays unambiguous.
func ComposeTypeTag(typ, subType string) (string, error) {
	if typ == "" || strings.Contains(typ, ":") {
		return "", fmt.Errorf("invalid action type: %q", typ)
	}
	if subType == "" {
		return typ, nil
	}
	if strings.Contains(subType, ":") {
		return "", fmt.Errorf("invalid action subtype: %q", subType)
	}
	return typ + ":" + subType, nil
}

// IsIDTag reports whether s looks like a DNS-rooted identity tag.
func IsIDTag(s string) bool {
	if len(s) < 3 || len(s) > 253 {
		return false
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return false
		}
		for i := 0; i < len(l); i++ {
			c := l[i]
			ok := c == '-' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z')
			if !ok {
				return false
			}
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return false
		}
	}
	return true
}

// APIHost returns the HTTPS host serving the node API for an identity tag.
func APIHost(idTag string) string {
	return "cl-o." + idTag
}
