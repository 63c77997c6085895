package manifest

import (
	"maps"
	"os"
	"strings"
	"text/template"
)

// templateEngine renders the manifest's paths and URLs. Definitions are
// reachable as {{.name}}, the environment through {{env "NAME"}}.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

// newTemplateEngine creates a new engine with the provided global definitions.
func newTemplateEngine(defines map[string]string) *templateEngine {
	return &templateEngine{
		defines: maps.Clone(defines),
		funcs:   template.FuncMap{"env": os.Getenv},
	}
}

// sub creates a new templateEngine that inherits the parent's definitions
// and adds (or overrides) them with the provided local definitions.
func (e *templateEngine) sub(locals map[string]string) *templateEngine {
	newDefines := make(map[string]string, len(e.defines)+len(locals))
	maps.Copy(newDefines, e.defines)
	maps.Copy(newDefines, locals)
	return &templateEngine{
		defines: newDefines,
		funcs:   e.funcs,
	}
}

// render executes the provided text as a template using the engine's definitions.
// If the text does not contain "{{", it is returned as-is.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}
