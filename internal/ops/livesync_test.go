package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/cardbox/internal/card"
	"github.com/hpungsan/cardbox/internal/change"
	"github.com/hpungsan/cardbox/internal/db"
	"github.com/hpungsan/cardbox/internal/errors"
	"github.com/hpungsan/cardbox/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed stores a card directly.
func seed(t *testing.T, env *Env, name string, time int64, summary ...string) {
	t.Helper()
	_, err := db.Put(context.Background(), env.DB, &card.Card{
		Graph: "g", Name: name, UUID: "uuid-" + name, Time: time, Summary: summary,
	})
	require.NoError(t, err)
}

func TestApplyChanges_ModifiedExistingPatches(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "new content")
	env := newTestEnv(t, h)
	seed(t, env, "A", 100, "old content")
	_, events := env.Hub.Subscribe(4)

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	require.NoError(t, err)
	assert.Equal(t, ActionPatched, out.Action)

	c := mustGet(t, env.DB, "g", "A")
	assert.Equal(t, []string{"new content"}, c.Summary)
	assert.Equal(t, env.Now().UnixMilli(), c.Time)
	assert.Equal(t, "uuid-A", c.UUID, "uuid unchanged")
	assert.Equal(t, "A", c.Name)

	ev := <-events
	assert.Equal(t, notify.KindPut, ev.Kind)
	assert.Equal(t, []string{"A"}, ev.Names)
}

func TestApplyChanges_ModifyNeverRegressesTime(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "edited")
	env := newTestEnv(t, h)
	future := env.Now().UnixMilli() + 10_000
	seed(t, env, "A", future, "before")

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	require.NoError(t, err)
	assert.Equal(t, ActionPatched, out.Action)

	c := mustGet(t, env.DB, "g", "A")
	assert.Equal(t, future, c.Time)
	assert.Equal(t, []string{"edited"}, c.Summary)
}

func TestApplyChanges_ModifiedNewPageInserts(t *testing.T) {
	h := newFakeHost()
	h.addPage("Fresh", 1, "hello")
	env := newTestEnv(t, h)

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("Fresh"))
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, out.Action)

	c := mustGet(t, env.DB, "g", "Fresh")
	require.NotNil(t, c)
	assert.Equal(t, "uuid-Fresh", c.UUID)
	assert.Equal(t, env.Now().UnixMilli(), c.Time)
}

func TestApplyChanges_ModifiedToEmptyDeletes(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "")
	env := newTestEnv(t, h)
	seed(t, env, "A", 100, "had content")

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, out.Action)
	assert.Nil(t, mustGet(t, env.DB, "g", "A"))
}

func TestApplyChanges_ModifiedEmptyUnknownPageIsNoop(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1)
	env := newTestEnv(t, h)

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)
	assert.Nil(t, mustGet(t, env.DB, "g", "A"))
}

func TestApplyChanges_FetchFailureLeavesStore(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "new")
	h.failPages["a"] = true
	env := newTestEnv(t, h)
	seed(t, env, "A", 100, "old")

	_, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	assert.True(t, errors.Is(err, errors.ErrHostUnavailable))

	c := mustGet(t, env.DB, "g", "A")
	assert.Equal(t, []string{"old"}, c.Summary)
	assert.Equal(t, int64(100), c.Time)
}

func TestApplyChanges_Deleted(t *testing.T) {
	h := newFakeHost()
	env := newTestEnv(t, h)
	seed(t, env, "B", 100, "x")

	out, err := ApplyChanges(context.Background(), env, "g", nameBatch("B", false))
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, out.Action)
	assert.Nil(t, mustGet(t, env.DB, "g", "B"))

	// Deleting again is a no-op
	out, err = ApplyChanges(context.Background(), env, "g", nameBatch("B", false))
	require.NoError(t, err)
	assert.Equal(t, ActionIgnored, out.Action)
}

func TestApplyChanges_CreatedIgnored(t *testing.T) {
	h := newFakeHost()
	h.addPage("New", 1, "content")
	env := newTestEnv(t, h)

	out, err := ApplyChanges(context.Background(), env, "g", nameBatch("New", true))
	require.NoError(t, err)
	assert.Equal(t, change.OpCreated, out.Op)
	assert.Equal(t, ActionIgnored, out.Action)
	assert.Nil(t, mustGet(t, env.DB, "g", "New"))
}

func TestApplyChanges_ModifyWinsOverNameTuple(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "body")
	env := newTestEnv(t, h)
	seed(t, env, "A", 1, "x")

	ch := modifiedBatch("A")
	ch.TxData = append(ch.TxData, change.Datom{1, change.AttrOriginalName, "A", 2, false})

	out, err := ApplyChanges(context.Background(), env, "g", ch)
	require.NoError(t, err)
	assert.Equal(t, change.OpModified, out.Op)
	assert.NotNil(t, mustGet(t, env.DB, "g", "A"))
}

func TestApplyChanges_IgnoresNonPagesAndSkipList(t *testing.T) {
	h := newFakeHost()
	h.addPage("contents", 1, "meta")
	env := newTestEnv(t, h)

	journal := change.Changes{
		Blocks: []change.Entity{{Path: "journals/2024_01_01.md"}},
		TxData: []change.Datom{{1, change.AttrLastModified, 1, 2, true}},
	}
	for _, ch := range []change.Changes{journal, modifiedBatch("contents"), {}} {
		out, err := ApplyChanges(context.Background(), env, "g", ch)
		require.NoError(t, err)
		assert.Equal(t, ActionIgnored, out.Action)
	}
	n, _ := db.Count(context.Background(), env.DB, "g")
	assert.Zero(t, n)
}

func TestApplyChanges_InactiveGraphDropped(t *testing.T) {
	h := newFakeHost()
	h.addPage("A", 1, "x")
	env := newTestEnv(t, h)
	seed(t, env, "B", 1, "y")
	env.Active = func(string) bool { return false }

	out, err := ApplyChanges(context.Background(), env, "g", modifiedBatch("A"))
	require.NoError(t, err)
	assert.Equal(t, ActionDropped, out.Action)
	assert.Nil(t, mustGet(t, env.DB, "g", "A"))

	out, err = ApplyChanges(context.Background(), env, "g", nameBatch("B", false))
	require.NoError(t, err)
	assert.Equal(t, ActionDropped, out.Action)
	assert.NotNil(t, mustGet(t, env.DB, "g", "B"))
}
