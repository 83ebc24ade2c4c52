// Package template provides read-only template sources and $variable
// substitution into render configs.
package template

import (
	"context"
	"sort"
	"sync"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

// Store is the read side of a template catalogue.
type Store interface {
	Get(ctx context.Context, id string) (*model.Template, error)
	List(ctx context.Context) ([]*model.Template, error)
}

func notFound(id string) error {
	return apperr.NotFound("template", id)
}

// MemoryStore serves a fixed set of templates.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*model.Template
}

func NewMemoryStore(templates ...*model.Template) *MemoryStore {
	s := &MemoryStore{templates: make(map[string]*model.Template, len(templates))}
	for _, t := range templates {
		s.templates[t.ID] = t.Clone()
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, notFound(id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*model.Template, error) {
	s.mu.RLock()
	out := make([]*model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sortByID(out)
	return out, nil
}

func sortByID(templates []*model.Template) {
	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })
}

func strptr(s string) *string { return &s }

// Builtins returns the stock catalogue shipped with the server.
func Builtins() []*model.Template {
	return []*model.Template{
		{
			ID:          "post_promocional",
			Name:        "Post Promocional",
			Description: "Template para posts promocionais",
			Config: model.RenderConfig{
				Segments: []model.Segment{
					{
						ID:           "promo_1",
						Type:         model.SegmentTypeImage,
						MediaURL:     "$image_1",
						Duration:     7,
						Text:         "$text_1",
						TextPosition: model.TextPositionCenter,
						FontSize:     60,
						FontColor:    "$color_1",
						Transition:   model.TransitionFadeIn,
					},
				},
				Resize: "1080x1080",
				FPS:    30,
			},
			Variables: map[string]model.TemplateVariable{
				"$image_1": {Type: "image", DefaultValue: strptr("https://images.unsplash.com/photo-1557804506-669a67965ba0?w=1080"), Description: "Imagem de fundo"},
				"$text_1":  {Type: "text", DefaultValue: strptr("PROMOÇÃO ESPECIAL\n50% OFF"), Description: "Texto principal"},
				"$color_1": {Type: "color", DefaultValue: strptr("#ffffff"), Description: "Cor do texto"},
			},
		},
		{
			ID:          "slideshow_3",
			Name:        "Slideshow 3 Imagens",
			Description: "Slideshow com 3 imagens",
			Config: model.RenderConfig{
				Segments: []model.Segment{
					slide("slide_1", "$image_1", "$text_1"),
					slide("slide_2", "$image_2", "$text_2"),
					slide("slide_3", "$image_3", "$text_3"),
				},
				Resize: "1080x1080",
				FPS:    30,
			},
			Variables: map[string]model.TemplateVariable{
				"$image_1": {Type: "image", DefaultValue: strptr("https://images.unsplash.com/photo-1557804506-669a67965ba0?w=1080")},
				"$image_2": {Type: "image", DefaultValue: strptr("https://images.unsplash.com/photo-1523275335684-37898b6baf30?w=1080")},
				"$image_3": {Type: "image", DefaultValue: strptr("https://images.unsplash.com/photo-1526947425960-945c6e72858f?w=1080")},
				"$text_1":  {Type: "text", DefaultValue: strptr("Slide 1")},
				"$text_2":  {Type: "text", DefaultValue: strptr("Slide 2")},
				"$text_3":  {Type: "text", DefaultValue: strptr("Slide 3")},
			},
		},
	}
}

func slide(id, media, text string) model.Segment {
	return model.Segment{
		ID:           id,
		Type:         model.SegmentTypeImage,
		MediaURL:     media,
		Duration:     3,
		Text:         text,
		TextPosition: model.TextPositionCenter,
		FontSize:     50,
		FontColor:    "#ffffff",
		Transition:   model.TransitionFadeIn,
	}
}
