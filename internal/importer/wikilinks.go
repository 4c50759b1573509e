package importer

import (
	"regexp"
	"strings"
)

// wikilinkRe matches [[target]] and [[target|alias]].
var wikilinkRe = regexp.MustCompile(`\[\[([^\[\]|]+?)(?:\|([^\[\]]+?))?\]\]`)

// WikiLinks returns the distinct [[link]] targets of body in order of first
// appearance. Targets are compared case-insensitively.
func WikiLinks(body string) []string {
	seen := make(map[string]bool)
	var targets []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(body, -1) {
		target := strings.TrimSpace(m[1])
		key := strings.ToLower(target)
		if target == "" || seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, target)
	}
	return targets
}

// StripWikiLinks replaces each [[link]] with its alias, or its target when
// there is no alias.
func StripWikiLinks(body string) string {
	return wikilinkRe.ReplaceAllStringFunc(body, func(match string) string {
		m := wikilinkRe.FindStringSubmatch(match)
		if alias := strings.TrimSpace(m[2]); alias != "" {
			return alias
		}
		return strings.TrimSpace(m[1])
	})
}
