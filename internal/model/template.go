package model

// Template is a reusable render config whose string fields may reference
// $variables.
type Template struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Config      RenderConfig                `json:"config"`
	Variables   map[string]TemplateVariable `json:"variables,omitempty"`
}

// TemplateVariable describes one $variable. Keys in Template.Variables
// carry the $ sigil.
type TemplateVariable struct {
	Type         string  `json:"type"`
	DefaultValue *string `json:"defaultValue,omitempty"`
	Description  string  `json:"description,omitempty"`
}

// Clone returns a deep copy.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Config = t.Config.Clone()
	if t.Variables != nil {
		out.Variables = make(map[string]TemplateVariable, len(t.Variables))
		for k, v := range t.Variables {
			out.Variables[k] = v
		}
	}
	return &out
}
