package util

import "github.com/google/uuid"

func NewID() string {
	return uuid.NewString()
}

// Slugify lowercases a name and collapses runs of non-alphanumerics into
// single hyphens, for URL-safe project slugs.
func Slugify(name string) string {
	out := make([]rune, 0, len(name))
	lastHyphen := true
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			lastHyphen = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			lastHyphen = false
		default:
			if !lastHyphen {
				out = append(out, '-')
				lastHyphen = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
