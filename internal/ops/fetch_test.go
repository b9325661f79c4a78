package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/cardbox/internal/errors"
)

func TestFetch(t *testing.T) {
	env := newTestEnv(t, newFakeHost())
	seed(t, env, "A", 100, "line one", "  * child")

	c, err := Fetch(context.Background(), env.DB, FetchInput{Graph: "g", Name: "A"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if c.UUID != "uuid-A" || c.Time != 100 || len(c.Summary) != 2 {
		t.Errorf("Fetch = %+v", c)
	}
}

func TestFetch_NotFound(t *testing.T) {
	env := newTestEnv(t, newFakeHost())

	_, err := Fetch(context.Background(), env.DB, FetchInput{Graph: "g", Name: "B"})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestFetch_Validation(t *testing.T) {
	env := newTestEnv(t, newFakeHost())

	tests := []FetchInput{
		{Graph: "", Name: "A"},
		{Graph: "g", Name: ""},
		{Graph: "g", Name: "   "},
	}
	for _, in := range tests {
		if _, err := Fetch(context.Background(), env.DB, in); !errors.Is(err, errors.ErrInvalidRequest) {
			t.Errorf("Fetch(%+v) err = %v, want INVALID_REQUEST", in, err)
		}
	}
}

func TestCount(t *testing.T) {
	env := newTestEnv(t, newFakeHost())
	seed(t, env, "A", 1, "x")
	seed(t, env, "B", 2, "y")

	out, err := Count(context.Background(), env.DB, CountInput{Graph: "g"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if out.Count != 2 || out.Graph != "g" {
		t.Errorf("Count = %+v, want 2 for g", out)
	}

	if _, err := Count(context.Background(), env.DB, CountInput{}); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}
