package importer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a Markdown file prepared for ingestion.
type Note struct {
	Path  string   // relative to the import root
	Title string   // frontmatter title, first H1, or the file name
	Body  string   // Markdown with frontmatter removed and wiki links flattened
	Tags  []string // frontmatter tags merged with inline #tags
	Links []string // wiki link targets
}

// ParseNote parses a Markdown file. rel is its path relative to the import
// root and is used for the fallback title.
func ParseNote(data []byte, rel string) (*Note, error) {
	fm, body, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: frontmatter: %w", rel, err)
	}

	title := stringField(fm, "title")
	if title == "" {
		title = firstHeading(body)
	}
	if title == "" {
		title = titleFromPath(rel)
	}

	return &Note{
		Path:  rel,
		Title: title,
		Body:  strings.TrimSpace(StripWikiLinks(body)),
		Tags:  mergeTags(frontmatterTags(fm), inlineTags(body)),
		Links: WikiLinks(body),
	}, nil
}

// Content renders the note as the Markdown document that gets ingested. Tags
// are kept as a trailing line so they take part in extraction.
func (n *Note) Content() string {
	var b strings.Builder
	if !strings.HasPrefix(n.Body, "# ") {
		fmt.Fprintf(&b, "# %s\n\n", n.Title)
	}
	b.WriteString(n.Body)
	if len(n.Tags) > 0 {
		b.WriteString("\n\nTags: ")
		b.WriteString(strings.Join(n.Tags, ", "))
	}
	return b.String()
}

// splitFrontmatter separates a leading YAML block delimited by "---" lines.
// Without a closing delimiter the whole text is body.
func splitFrontmatter(text string) (map[string]any, string, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, text, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, text, nil
	}

	fm := make(map[string]any)
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &fm); err != nil {
		return nil, text, err
	}
	return fm, strings.Join(lines[end+1:], "\n"), nil
}

func titleFromPath(rel string) string {
	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(name))
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func stringField(fm map[string]any, key string) string {
	s, _ := fm[key].(string)
	return strings.TrimSpace(s)
}

// frontmatterTags accepts a YAML list or a comma-separated string.
func frontmatterTags(fm map[string]any) []string {
	var tags []string
	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
	case string:
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

var inlineTagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)

func inlineTags(body string) []string {
	var tags []string
	for _, m := range inlineTagRe.FindAllStringSubmatch(body, -1) {
		tags = append(tags, m[1])
	}
	return tags
}

// mergeTags concatenates tag lists, dropping case-insensitive duplicates.
func mergeTags(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, t := range list {
			key := strings.ToLower(t)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	return out
}
