package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxNameLength = 200

var illegalNameChars = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]+`)

// SanitizeName makes a name safe for the filesystem: illegal and control
// characters are stripped, leading/trailing dots and spaces trimmed, the
// result is never empty and at most 200 characters.
func SanitizeName(name string) string {
	name = illegalNameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, ". ")

	if name == "" {
		name = fmt.Sprintf("unnamed_%d", time.Now().UnixMilli())
	}

	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}

	return name
}
