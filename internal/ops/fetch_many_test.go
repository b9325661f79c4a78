package ops

import (
	"context"
	"fmt"
	"testing"

	"github.com/hpungsan/cardbox/internal/errors"
)

func TestFetchMany_PartialSuccess(t *testing.T) {
	env := newTestEnv(t, newFakeHost())
	seed(t, env, "A", 100, "x")
	seed(t, env, "B", 200, "y")

	out, err := FetchMany(context.Background(), env.DB, FetchManyInput{
		Graph: "g",
		Items: []FetchManyRef{
			{Name: "A"},
			{Name: "missing"},
			{Graph: "g", Name: "B"},
			{Name: ""},
		},
	})
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}

	if len(out.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(out.Items))
	}
	if out.Items[0].Name != "B" || out.Items[1].Name != "A" {
		t.Errorf("Items order = [%s %s], want recency order [B A]", out.Items[0].Name, out.Items[1].Name)
	}

	if len(out.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2: %+v", len(out.Errors), out.Errors)
	}
	codes := map[string]string{}
	for _, e := range out.Errors {
		codes[e.Ref.Name] = e.Code
	}
	if codes[""] != string(errors.ErrInvalidRequest) {
		t.Errorf("empty name code = %q", codes[""])
	}
	if codes["missing"] != string(errors.ErrNotFound) {
		t.Errorf("missing code = %q", codes["missing"])
	}
}

func TestFetchMany_EmptyArrays(t *testing.T) {
	env := newTestEnv(t, newFakeHost())

	out, err := FetchMany(context.Background(), env.DB, FetchManyInput{Graph: "g"})
	if err != nil {
		t.Fatalf("FetchMany failed: %v", err)
	}
	if out.Items == nil || out.Errors == nil {
		t.Errorf("expected empty arrays, got Items=%v Errors=%v", out.Items, out.Errors)
	}
}

func TestFetchMany_TooManyItems(t *testing.T) {
	env := newTestEnv(t, newFakeHost())

	refs := make([]FetchManyRef, MaxFetchManyItems+1)
	for i := range refs {
		refs[i] = FetchManyRef{Name: fmt.Sprintf("p%d", i)}
	}
	_, err := FetchMany(context.Background(), env.DB, FetchManyInput{Graph: "g", Items: refs})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}
