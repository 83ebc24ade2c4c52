package template

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

func promoTemplate() *model.Template {
	return &model.Template{
		ID:   "promo",
		Name: "Promo",
		Config: model.RenderConfig{
			Segments: []model.Segment{
				{Type: model.SegmentTypeImage, MediaURL: "$image_1", Duration: 5, Text: "$text_1 now", FontColor: "#ffffff"},
			},
			Resize: "1080x1080",
			FPS:    30,
		},
		Variables: map[string]model.TemplateVariable{
			"$image_1": {Type: "image"},
			"$text_1":  {Type: "text"},
		},
	}
}

func TestApplyMissingVariable(t *testing.T) {
	_, err := Apply(promoTemplate(), map[string]any{"$image_1": "bg.png"})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	e, _ := apperr.As(err)
	missing, _ := e.Fields["missing_variables"].([]string)
	if !reflect.DeepEqual(missing, []string{"$text_1"}) {
		t.Errorf("missing_variables = %v, want [$text_1]", missing)
	}
}

func TestApplyEqualsExplicitConfig(t *testing.T) {
	got, err := Apply(promoTemplate(), map[string]any{"$image_1": "bg.png", "text_1": "Sale"})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}

	want := model.RenderConfig{
		Segments: []model.Segment{
			{Type: model.SegmentTypeImage, MediaURL: "bg.png", Duration: 5, Text: "Sale now", FontColor: "#ffffff"},
		},
		Resize: "1080x1080",
		FPS:    30,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Apply() = %+v, want %+v", got, want)
	}
}

func TestApplyUsesDefaults(t *testing.T) {
	tpl := promoTemplate()
	def := "Hello"
	tpl.Variables["$text_1"] = model.TemplateVariable{Type: "text", DefaultValue: &def}

	got, err := Apply(tpl, map[string]any{"$image_1": "bg.png"})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got.Segments[0].Text != "Hello now" {
		t.Errorf("text = %q, want default applied", got.Segments[0].Text)
	}
}

func TestApplyStringifiesValues(t *testing.T) {
	tpl := promoTemplate()
	tpl.Config.Segments[0].Text = "$count items"

	got, err := Apply(tpl, map[string]any{"$image_1": "bg.png", "$count": 3})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got.Segments[0].Text != "3 items" {
		t.Errorf("text = %q, want %q", got.Segments[0].Text, "3 items")
	}
}

func TestApplyDoesNotMutateTemplate(t *testing.T) {
	tpl := promoTemplate()
	if _, err := Apply(tpl, map[string]any{"$image_1": "bg.png", "$text_1": "x"}); err != nil {
		t.Fatal(err)
	}
	if tpl.Config.Segments[0].MediaURL != "$image_1" {
		t.Error("Apply mutated the template body")
	}
}

func TestSubstituteIsIdempotent(t *testing.T) {
	resolved := map[string]string{"$image_1": "bg.png", "$text_1": "Sale"}
	once := Substitute(promoTemplate().Config, resolved)
	twice := Substitute(once, resolved)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second substitution changed the config: %+v vs %+v", once, twice)
	}
	if len(References(once)) != 0 {
		t.Errorf("references left after substitution: %v", References(once))
	}
}

func TestApplyRejectsNestedReferences(t *testing.T) {
	tpl := promoTemplate()
	tpl.Config.Segments = append(tpl.Config.Segments,
		model.Segment{Type: model.SegmentTypeImage, MediaURL: "$image_1", Duration: 5, Text: "$text_2"})
	tpl.Variables["$text_2"] = model.TemplateVariable{Type: "text"}

	_, err := Apply(tpl, map[string]any{"$image_1": "bg.png", "$text_1": "$text_2", "$text_2": "Middle"})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	e, _ := apperr.As(err)
	invalid, _ := e.Fields["invalid_variables"].([]string)
	if !reflect.DeepEqual(invalid, []string{"$text_1"}) {
		t.Errorf("invalid_variables = %v, want [$text_1]", invalid)
	}
}

func TestApplyAllowsUnrelatedDollarText(t *testing.T) {
	got, err := Apply(promoTemplate(), map[string]any{"$image_1": "bg.png", "$text_1": "$USD 10 off, was $20"})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got.Segments[0].Text != "$USD 10 off, was $20 now" {
		t.Errorf("text = %q", got.Segments[0].Text)
	}

	again := Substitute(got, map[string]string{"$image_1": "bg.png", "$text_1": "$USD 10 off, was $20"})
	if !reflect.DeepEqual(got, again) {
		t.Errorf("second substitution changed the config: %+v vs %+v", got, again)
	}
}

func TestReferences(t *testing.T) {
	cfg := model.RenderConfig{
		BackgroundAudio: "$audio",
		Segments: []model.Segment{
			{MediaURL: "$image_1", Text: "$text_1 and $text_1 cost $5"},
			{MediaURL: "$image_2", FontColor: "$color"},
		},
	}

	got := References(cfg)
	want := []string{"$audio", "$color", "$image_1", "$image_2", "$text_1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("References() = %v, want %v", got, want)
	}
}

func TestBuiltinsRenderWithDefaults(t *testing.T) {
	for _, tpl := range Builtins() {
		t.Run(tpl.ID, func(t *testing.T) {
			cfg, err := Apply(tpl, nil)
			if err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if refs := References(cfg); len(refs) != 0 {
				t.Errorf("unresolved references: %v", refs)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(Builtins()...)
	ctx := context.Background()

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "post_promocional" || list[1].ID != "slideshow_3" {
		t.Errorf("unexpected list: %v", list)
	}

	got, err := s.Get(ctx, "slideshow_3")
	if err != nil {
		t.Fatal(err)
	}
	got.Config.Segments[0].MediaURL = "changed"
	again, _ := s.Get(ctx, "slideshow_3")
	if again.Config.Segments[0].MediaURL != "$image_1" {
		t.Error("store returned shared template storage")
	}

	if _, err := s.Get(ctx, "nope"); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client)
	ctx := context.Background()
	for _, tpl := range Builtins() {
		if err := s.Put(ctx, tpl); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	got, err := s.Get(ctx, "post_promocional")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "Post Promocional" || len(got.Config.Segments) != 1 {
		t.Errorf("unexpected template: %+v", got)
	}
	if got.Variables["$text_1"].DefaultValue == nil {
		t.Error("variable defaults were not persisted")
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("List() returned %d templates, want 2", len(list))
	}

	if _, err := s.Get(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CLIPCRAFT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CLIPCRAFT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	for _, tpl := range Builtins() {
		if err := s.Put(ctx, tpl); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}

	got, err := s.Get(ctx, "slideshow_3")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got.Config.Segments) != 3 {
		t.Errorf("segments = %d, want 3", len(got.Config.Segments))
	}
	if _, err := s.Get(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
