// Package repository holds the GORM-backed stores for users, messages and notifications.
package repository

import "strings"

// likeEscape is the ESCAPE character used in LIKE patterns. A backslash is
// avoided because MySQL treats it as a string escape.
const likeEscape = "!"

var likeReplacer = strings.NewReplacer(
	likeEscape, likeEscape+likeEscape,
	"%", likeEscape+"%",
	"_", likeEscape+"_",
)

// containsPattern builds a case-folded LIKE pattern matching q as a literal substring.
func containsPattern(q string) string {
	return "%" + likeReplacer.Replace(strings.ToLower(q)) + "%"
}

func reverseMessages[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
