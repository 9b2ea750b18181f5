package drill

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func validDrill(id string) *Drill {
	return &Drill{
		ID:         id,
		Title:      "Ordering at a cafe",
		Type:       TypeRoleplay,
		Difficulty: DifficultyBeginner,
		Roleplay: &Roleplay{
			Characters: []Character{{Name: "Sam", Role: "barista"}},
			Scenes: []Scene{{
				Title:    "At the counter",
				Dialogue: []DialogueLine{{Speaker: "Sam", Text: "What can I get you?"}},
			}},
		},
	}
}

func TestDrill_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(d *Drill)
		wantErr []string
	}{
		{name: "valid", mutate: func(*Drill) {}},
		{name: "empty difficulty is fine", mutate: func(d *Drill) { d.Difficulty = "" }},
		{
			name:    "missing title",
			mutate:  func(d *Drill) { d.Title = "  " },
			wantErr: []string{"title is required"},
		},
		{
			name:    "unknown type and difficulty",
			mutate:  func(d *Drill) { d.Type = "karaoke"; d.Difficulty = "expert" },
			wantErr: []string{`unknown type "karaoke"`, `unknown difficulty "expert"`},
		},
		{
			name:    "dialogue without speaker",
			mutate:  func(d *Drill) { d.Roleplay.Scenes[0].Dialogue[0].Speaker = "" },
			wantErr: []string{"scene 0 line 0: speaker is required"},
		},
		{
			name: "fill blank without gap",
			mutate: func(d *Drill) {
				d.FillBlankItems = []FillBlankItem{{Sentence: "I go home.", Answer: "go"}}
			},
			wantErr: []string{"fill-blank item 0"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := validDrill("d1")
			tc.mutate(d)
			err := d.Validate()
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestType_Label(t *testing.T) {
	if got := TypeSentenceWriting.Label(); got != "sentence writing" {
		t.Errorf("Label() = %q", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.Put(ctx, validDrill("")); err == nil {
		t.Error("Put without id succeeded")
	}
	bad := validDrill("bad")
	bad.Type = "nope"
	if err := s.Put(ctx, bad); err == nil {
		t.Error("Put of invalid drill succeeded")
	}

	d := validDrill("cafe")
	if err := s.Put(ctx, d); err != nil {
		t.Fatalf("Put: %v", err)
	}
	d.Title = "mutated after put"

	got, err := s.Get(ctx, "cafe")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Ordering at a cafe" {
		t.Errorf("stored title = %q, want the value at Put time", got.Title)
	}
	if ids := s.IDs(); len(ids) != 1 || ids[0] != "cafe" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = s.Put(ctx, validDrill(id))
			_, _ = s.Get(ctx, id)
		}()
	}
	wg.Wait()
	if n := len(s.IDs()); n != 20 {
		t.Errorf("stored %d drills, want 20", n)
	}
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantN   int
		wantErr string
	}{
		{
			name: "valid",
			content: `drills:
  - id: th-sounds
    title: The TH sound
    type: pronunciation
    difficulty: intermediate
    target_sentences:
      - text: Think through three things.
    weaknesses:
      - sound: /θ/
        tip: Put your tongue between your teeth.
  - id: past-simple
    title: Past simple
    type: fill_blank
    fill_blank_items:
      - sentence: Yesterday I ___ to the park.
        answer: went
`,
			wantN: 2,
		},
		{
			name:    "unknown field",
			content: "drills:\n  - id: x\n    title: X\n    type: grammar\n    colour: red\n",
			wantErr: "field colour not found",
		},
		{
			name:    "invalid entry",
			content: "drills:\n  - id: x\n    title: X\n    type: dancing\n",
			wantErr: "seed entry 0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			s := NewMemoryStore()
			n, err := LoadFile(ctx, s, path)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if n != tc.wantN {
				t.Errorf("loaded %d, want %d", n, tc.wantN)
			}
			d, err := s.Get(ctx, "th-sounds")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(d.Weaknesses) != 1 || d.Weaknesses[0].Sound != "/θ/" {
				t.Errorf("weaknesses = %+v", d.Weaknesses)
			}
		})
	}

	if _, err := LoadFile(ctx, NewMemoryStore(), filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadFile on a missing file succeeded")
	}
}
