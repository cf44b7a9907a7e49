package flow

import (
	"regexp"
	"strings"
	"unicode"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Substitute replaces every {{name}} placeholder in content with the current
// value of variables[name]. Unset placeholders are left as literal text:
// authors are responsible for only referencing variables set on every path
// that reaches the placeholder.
func Substitute(content string, variables map[string]string) string {
	if content == "" || !strings.Contains(content, "{{") {
		return content
	}
	return placeholderRegex.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		if value, ok := variables[name]; ok {
			return value
		}
		return match
	})
}

// humanizeKey turns a variable key like "tipo_consulta" into "Tipo consulta"
// for the handover summary.
func humanizeKey(key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	runes := []rune(key)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}
