package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harun/agentrelay/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := Open(Config{
		Path:   filepath.Join(t.TempDir(), "test.sqlite3"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func createSessionRow(t *testing.T, st *Store, id string, created time.Time) {
	t.Helper()
	require.NoError(t, st.CreateOrReplaceSession(context.Background(), SessionRecord{
		ID:        id,
		CreatedAt: created,
		Options:   session.DefaultOptions(),
	}))
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestCreateOrReplaceSession_RoundTrip(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	budget := 1024
	opts := session.DefaultOptions()
	opts.SystemPromptSuffix = "be brief"
	opts.ThinkingEnabled = true
	opts.ThinkingBudget = &budget
	opts.TokenEfficientTools = true
	created := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)

	require.NoError(t, st.CreateOrReplaceSession(ctx, SessionRecord{ID: "s1", CreatedAt: created, Options: opts}))

	rec, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, session.StatusIdle, rec.Status)
	assert.True(t, created.Equal(rec.CreatedAt))
	assert.Equal(t, opts, rec.Options)
}

func TestGetSession_NotFound(t *testing.T) {
	st := createTestStore(t)

	_, err := st.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestCreateOrReplaceSession_KeepsMessages(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	_, err := st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("hi")})
	require.NoError(t, err)

	opts := session.DefaultOptions()
	opts.Model = "m2"
	require.NoError(t, st.CreateOrReplaceSession(ctx, SessionRecord{ID: "s1", CreatedAt: time.Now(), Options: opts}))

	n, err := st.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "m2", rec.Options.Model)
}

func TestAppendMessage_OrderMatchesAppend(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	var ids []int64
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		id, err := st.AppendMessage(ctx, "s1", role, []session.ContentBlock{session.TextBlock(fmt.Sprintf("m%d", i))})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 10)

	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		if i > 0 {
			assert.Greater(t, m.ID, msgs[i-1].ID)
		}

		var blocks []session.ContentBlock
		require.NoError(t, json.Unmarshal(m.Content, &blocks))
		require.Len(t, blocks, 1)
		assert.Equal(t, fmt.Sprintf("m%d", i), blocks[0].Text)
	}
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestAppendMessage_ConcurrentWritersSerialized(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock(fmt.Sprint(i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := st.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestAppendMessage_UnknownSessionRejected(t *testing.T) {
	st := createTestStore(t)

	_, err := st.AppendMessage(context.Background(), "ghost", "user", []session.ContentBlock{session.TextBlock("x")})
	assert.ErrorIs(t, err, ErrStorage)
}

func messageTexts(t *testing.T, msgs []Message) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		var blocks []session.ContentBlock
		require.NoError(t, json.Unmarshal(m.Content, &blocks))
		require.NotEmpty(t, blocks)
		out[i] = m.Role + ":" + blocks[0].Text
	}
	return out
}

func TestAppendRun_MovesPendingAfterRunOutput(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	_, err := st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("u1")})
	require.NoError(t, err)
	// posted while the run was in flight
	_, err = st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("u2")})
	require.NoError(t, err)
	before, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)

	turns := []session.Turn{
		{Role: session.RoleAssistant, Content: []session.ContentBlock{session.TextBlock("a1")}},
		{Role: session.RoleUser, Content: []session.ContentBlock{session.TextBlock("tool")}},
		{Role: session.RoleAssistant, Content: []session.ContentBlock{session.TextBlock("a2")}},
	}
	require.NoError(t, st.AppendRun(ctx, "s1", turns, 1))

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:u1", "assistant:a1", "user:tool", "assistant:a2", "user:u2"}, messageTexts(t, msgs))

	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].ID, msgs[i-1].ID)
	}
	assert.Equal(t, before[0].ID, msgs[0].ID)
	assert.True(t, before[1].CreatedAt.Equal(msgs[4].CreatedAt), "moved row keeps its timestamp")
}

func TestAppendRun_NoPending(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	_, err := st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("u1")})
	require.NoError(t, err)
	require.NoError(t, st.AppendRun(ctx, "s1", []session.Turn{
		{Role: session.RoleAssistant, Content: []session.ContentBlock{session.TextBlock("a1")}},
	}, 0))
	require.NoError(t, st.AppendRun(ctx, "s1", nil, 1))

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:u1", "assistant:a1"}, messageTexts(t, msgs))
}

func TestAppendRun_AllOrNothing(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()

	err := st.AppendRun(ctx, "ghost", []session.Turn{
		{Role: session.RoleAssistant, Content: []session.ContentBlock{session.TextBlock("a1")}},
	}, 0)
	assert.ErrorIs(t, err, ErrStorage)

	createSessionRow(t, st, "s1", time.Now())
	_, err = st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("u1")})
	require.NoError(t, err)

	err = st.AppendRun(ctx, "s1", []session.Turn{
		{Role: session.RoleAssistant, Content: []session.ContentBlock{session.TextBlock("a1")}},
	}, 3)
	assert.ErrorIs(t, err, ErrStorage)

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:u1"}, messageTexts(t, msgs))
}

func TestListSessions_NewestFirst(t *testing.T) {
	st := createTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	createSessionRow(t, st, "a", base)
	createSessionRow(t, st, "c", base.Add(2*time.Second))
	createSessionRow(t, st, "b", base.Add(time.Second))

	recs, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
	assert.Equal(t, "a", recs[2].ID)
}

func TestListSessions_Empty(t *testing.T) {
	st := createTestStore(t)

	recs, err := st.ListSessions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestDeleteSession_CascadesMessages(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())
	createSessionRow(t, st, "s2", time.Now())

	for i := 0; i < 3; i++ {
		_, err := st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("x")})
		require.NoError(t, err)
	}
	_, err := st.AppendMessage(ctx, "s2", "user", []session.ContentBlock{session.TextBlock("y")})
	require.NoError(t, err)

	require.NoError(t, st.DeleteSession(ctx, "s1"))

	n, err := st.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = st.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err = st.CountMessages(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteSession_Idempotent(t *testing.T) {
	st := createTestStore(t)

	assert.NoError(t, st.DeleteSession(context.Background(), "never-existed"))
}

func TestSetStatus(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())

	require.NoError(t, st.SetStatus(ctx, "s1", session.StatusRunning))
	rec, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, rec.Status)

	assert.NoError(t, st.SetStatus(ctx, "gone", session.StatusIdle))
}

func TestResetRunning(t *testing.T) {
	st := createTestStore(t)
	ctx := context.Background()
	createSessionRow(t, st, "s1", time.Now())
	createSessionRow(t, st, "s2", time.Now())
	require.NoError(t, st.SetStatus(ctx, "s2", session.StatusRunning))

	ids, err := st.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids)

	rec, err := st.GetSession(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, session.StatusIdle, rec.Status)

	ids, err = st.ResetRunning(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.sqlite3")
	ctx := context.Background()

	st, err := Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	createSessionRow(t, st, "s1", time.Now())
	_, err = st.AppendMessage(ctx, "s1", "user", []session.ContentBlock{session.TextBlock("persist me")})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer st.Close()

	msgs, err := st.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `[{"type":"text","text":"persist me"}]`, string(msgs[0].Content))
}

func TestResolvePath(t *testing.T) {
	t.Run("preferred writable", func(t *testing.T) {
		preferred := filepath.Join(t.TempDir(), "nested", "dir")
		path, err := ResolvePath(preferred, t.TempDir(), "db.sqlite3")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(preferred, "db.sqlite3"), path)
	})

	t.Run("falls back when preferred is a file", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
		fallback := t.TempDir()

		path, err := ResolvePath(blocker, fallback, "db.sqlite3")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(fallback, "db.sqlite3"), path)
	})

	t.Run("requires file name", func(t *testing.T) {
		_, err := ResolvePath(t.TempDir(), t.TempDir(), "")
		assert.Error(t, err)
	})
}
