package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

var variablePattern = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*`)

// Apply resolves every $variable referenced by t against values, falling
// back to declared defaults, and returns the substituted config. Value keys
// may be given with or without the $ sigil. Any reference left unresolved
// yields a validation error naming it.
func Apply(t *model.Template, values map[string]any) (model.RenderConfig, error) {
	refs := References(t.Config)

	resolved := make(map[string]string, len(refs))
	var missing []string
	for _, ref := range refs {
		if v, ok := lookup(values, ref); ok {
			resolved[ref] = v
			continue
		}
		if decl, ok := t.Variables[ref]; ok && decl.DefaultValue != nil {
			resolved[ref] = *decl.DefaultValue
			continue
		}
		missing = append(missing, ref)
	}

	if len(missing) > 0 {
		return model.RenderConfig{}, apperr.Validation("missing values for template variables: %s", strings.Join(missing, ", ")).
			WithField("template_id", t.ID).
			WithField("missing_variables", missing)
	}

	if nested := nestedReferences(resolved); len(nested) > 0 {
		return model.RenderConfig{}, apperr.Validation("template variable values may not reference other variables: %s", strings.Join(nested, ", ")).
			WithField("template_id", t.ID).
			WithField("invalid_variables", nested)
	}

	return Substitute(t.Config, resolved), nil
}

// nestedReferences returns the sorted names whose value mentions another
// resolved variable. Substitution is single-pass, so such a value would
// survive as a literal token and change on a second pass.
func nestedReferences(resolved map[string]string) []string {
	var out []string
	for name, v := range resolved {
		for _, m := range variablePattern.FindAllString(v, -1) {
			if _, ok := resolved[m]; ok {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// References returns the sorted, de-duplicated variable names used by cfg.
func References(cfg model.RenderConfig) []string {
	seen := make(map[string]struct{})
	scan := cfg.Clone()
	eachField(&scan, func(s *string) {
		for _, m := range variablePattern.FindAllString(*s, -1) {
			seen[m] = struct{}{}
		}
	})

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Substitute returns a copy of cfg with every known reference replaced.
// Unknown references are left in place.
func Substitute(cfg model.RenderConfig, resolved map[string]string) model.RenderConfig {
	out := cfg.Clone()
	eachField(&out, func(s *string) {
		*s = variablePattern.ReplaceAllStringFunc(*s, func(m string) string {
			if v, ok := resolved[m]; ok {
				return v
			}
			return m
		})
	})
	return out
}

func lookup(values map[string]any, ref string) (string, bool) {
	v, ok := values[ref]
	if !ok {
		v, ok = values[strings.TrimPrefix(ref, "$")]
	}
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// eachField visits every string field that may carry a reference.
func eachField(cfg *model.RenderConfig, fn func(*string)) {
	fn(&cfg.BackgroundAudio)
	fn(&cfg.Resize)
	for i := range cfg.Segments {
		seg := &cfg.Segments[i]
		fn(&seg.ID)
		fn(&seg.MediaURL)
		fn(&seg.Text)
		fn(&seg.FontColor)

		pos := string(seg.TextPosition)
		fn(&pos)
		seg.TextPosition = model.TextPosition(pos)

		tr := string(seg.Transition)
		fn(&tr)
		seg.Transition = model.Transition(tr)
	}
}
