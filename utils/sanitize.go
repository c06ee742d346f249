package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

// SanitizeText strips any markup from user supplied free text such as break reasons.
func SanitizeText(input string) string {
	return strings.TrimSpace(sanitizer.Sanitize(input))
}
