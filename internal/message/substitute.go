package message

import (
	"strings"
)

// substitute replaces every {{name}} token in text with its resolved value.
// Replacement is global within the field. Tokens without a resolved value are
// kept verbatim and reported so the caller can log the authoring defect.
func substitute(text string, values map[string]string) (string, []string) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	var unknown []string

	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			b.WriteString(text)
			break
		}
		end := strings.Index(text[open+2:], "}}")
		if end < 0 {
			b.WriteString(text)
			break
		}

		// A stray open delimiter must not swallow the next token: emit it
		// verbatim and re-anchor the scan at the inner open.
		if inner := strings.Index(text[open+2:open+2+end], "{{"); inner >= 0 {
			b.WriteString(text[:open+2+inner])
			text = text[open+2+inner:]
			continue
		}

		token := text[open : open+2+end+2]
		b.WriteString(text[:open])
		if value, ok := values[token]; ok {
			b.WriteString(value)
		} else {
			b.WriteString(token)
			unknown = append(unknown, token)
		}
		text = text[open+2+end+2:]
	}

	return b.String(), unknown
}

// placeholders returns every {{name}} token appearing in text, in order of
// first occurrence, without duplicates.
func placeholders(text string) []string {
	var tokens []string
	seen := make(map[string]bool)

	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			break
		}
		end := strings.Index(text[open+2:], "}}")
		if end < 0 {
			break
		}
		if inner := strings.Index(text[open+2:open+2+end], "{{"); inner >= 0 {
			text = text[open+2+inner:]
			continue
		}
		token := text[open : open+2+end+2]
		if !seen[token] {
			seen[token] = true
			tokens = append(tokens, token)
		}
		text = text[open+2+end+2:]
	}

	return tokens
}

// PlaceholderToken wraps a bare variable name in the {{name}} delimiter
// syntax. Names already carrying delimiters pass through unchanged.
func PlaceholderToken(name string) string {
	if strings.HasPrefix(name, "{{") {
		return name
	}
	return "{{" + name + "}}"
}

// MissingVariables returns the placeholder tokens used in the template's text
// fields that have no declared variable. Meant for authoring-time validation;
// rendering itself leaves unknown tokens verbatim.
func MissingVariables(tmpl *Template, vars []TemplateVariable) []string {
	declared := make(map[string]bool, len(vars))
	for _, v := range vars {
		declared[v.VariableName] = true
	}

	var missing []string
	seen := make(map[string]bool)
	for _, text := range []string{tmpl.Header, tmpl.Body, tmpl.Footer} {
		for _, token := range placeholders(text) {
			if !declared[token] && !seen[token] {
				seen[token] = true
				missing = append(missing, token)
			}
		}
	}
	return missing
}
