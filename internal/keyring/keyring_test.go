package keyring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/providers"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

// fakeProvider answers per credential: a non-nil error fails the call,
// otherwise it replies "reply from <key>".
type fakeProvider struct {
	mu    sync.Mutex
	errs  map[string]error
	calls []string
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.APIKey)
	if err := f.errs[req.APIKey]; err != nil {
		return nil, err
	}
	return &providers.ChatResponse{Content: "reply from " + req.APIKey}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

var rateLimited = &providers.HTTPError{Status: 429, Body: "quota"}

func newPool(t *testing.T, keys []string, cursor int, fallback string) (*Pool, *store.ConversationStore) {
	t.Helper()
	st := store.NewConversationStore(kv.NewMemory(), "custom.gchat")
	ctx := context.Background()
	if keys != nil {
		require.NoError(t, st.SetCredentials(ctx, keys))
	}
	require.NoError(t, st.SetCursor(ctx, cursor))
	p, err := NewPool(ctx, st, fallback)
	require.NoError(t, err)
	return p, st
}

func newGen(p *Pool, fp *fakeProvider) (*Generator, *[]time.Duration) {
	g := NewGenerator(p, fp, "")
	var slept []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func req() Request {
	return Request{UserID: 1, Messages: []providers.Message{{Role: "user", Content: "hi"}}}
}

// TestGenerate_RotatesOnceOnRateLimit covers the first key being
// rate-limited and the second succeeding.
func TestGenerate_RotatesOnceOnRateLimit(t *testing.T) {
	p, st := newPool(t, []string{"k1", "k2"}, 0, "")
	fp := &fakeProvider{errs: map[string]error{"k1": rateLimited}}
	g, slept := newGen(p, fp)

	out, err := g.Generate(context.Background(), req(), DefaultPolicy(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "reply from k2", out)
	assert.Equal(t, []string{"k1", "k2"}, fp.calls)
	assert.Equal(t, []time.Duration{4 * time.Second}, *slept)

	cursor, err := st.Cursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)
}

func TestGenerate_CyclicRotationReturnsToStart(t *testing.T) {
	p, _ := newPool(t, []string{"k1", "k2", "k3"}, 0, "")
	fp := &fakeProvider{errs: map[string]error{
		"k1": rateLimited,
		"k2": errors.New("API key invalid"),
		"k3": rateLimited,
	}}
	g, slept := newGen(p, fp)

	_, err := g.Generate(context.Background(), req(), LightPolicy(3, time.Second))
	require.ErrorIs(t, err, ErrExhaustedCredentials)
	assert.Equal(t, []string{"k1", "k2", "k3"}, fp.calls)
	// No backoff after the final attempt.
	assert.Len(t, *slept, 2)

	idx, _, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestGenerate_DefaultBudgetIsTwicePool(t *testing.T) {
	p, _ := newPool(t, []string{"k1", "k2"}, 1, "")
	fp := &fakeProvider{errs: map[string]error{"k1": rateLimited, "k2": rateLimited}}
	g, _ := newGen(p, fp)

	_, err := g.Generate(context.Background(), req(), DefaultPolicy(0))
	require.ErrorIs(t, err, ErrExhaustedCredentials)
	assert.Equal(t, []string{"k2", "k1", "k2", "k1"}, fp.calls)
}

func TestGenerate_FatalDoesNotRotate(t *testing.T) {
	p, st := newPool(t, []string{"k1", "k2"}, 0, "")
	boom := &providers.HTTPError{Status: 500, Body: "boom"}
	fp := &fakeProvider{errs: map[string]error{"k1": boom}}
	g, slept := newGen(p, fp)

	_, err := g.Generate(context.Background(), req(), DefaultPolicy(time.Second))
	require.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"k1"}, fp.calls)
	assert.Empty(t, *slept)

	cursor, err := st.Cursor(context.Background())
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestGenerate_EmptyPoolFailsFast(t *testing.T) {
	p, _ := newPool(t, nil, 0, "")
	fp := &fakeProvider{}
	g, _ := newGen(p, fp)

	_, err := g.Generate(context.Background(), req(), DefaultPolicy(time.Second))
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Empty(t, fp.calls)
}

func TestGenerate_FallbackKey(t *testing.T) {
	p, _ := newPool(t, nil, 0, "env-key")
	fp := &fakeProvider{}
	g, _ := newGen(p, fp)

	out, err := g.Generate(context.Background(), req(), DefaultPolicy(0))
	require.NoError(t, err)
	assert.Equal(t, "reply from env-key", out)
}

func TestGenerate_BackoffHonoursContext(t *testing.T) {
	p, _ := newPool(t, []string{"k1", "k2"}, 0, "")
	fp := &fakeProvider{errs: map[string]error{"k1": rateLimited}}
	g := NewGenerator(p, fp, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, req(), DefaultPolicy(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_AdvanceFromStaleCursorIsNoop(t *testing.T) {
	p, _ := newPool(t, []string{"k1", "k2", "k3"}, 0, "")
	ctx := context.Background()

	next, err := p.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	// A second caller that also failed on k1 must not skip k2.
	next, err = p.Advance(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestPool_ConcurrentAdvanceIsAtomic(t *testing.T) {
	p, _ := newPool(t, []string{"a", "b", "c", "d"}, 0, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx, _, err := p.Current()
			if err == nil {
				p.Advance(ctx, idx)
			}
		}()
	}
	wg.Wait()

	idx, _, err := p.Current()
	require.NoError(t, err)
	assert.True(t, idx >= 0 && idx < 4)
}

func TestPool_AdminEdits(t *testing.T) {
	p, st := newPool(t, nil, 0, "")
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, "k1"))
	require.NoError(t, p.Add(ctx, "k2"))
	require.NoError(t, p.Add(ctx, "k3"))
	assert.Error(t, p.Add(ctx, ""))

	require.NoError(t, p.Select(ctx, 3))
	keys, cursor := p.List()
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)
	assert.Equal(t, 2, cursor)

	assert.ErrorIs(t, p.Select(ctx, 0), ErrInvalidIndex)
	assert.ErrorIs(t, p.Remove(ctx, 4), ErrInvalidIndex)

	// Removing the selected last key clamps the cursor.
	require.NoError(t, p.Remove(ctx, 3))
	keys, cursor = p.List()
	assert.Equal(t, []string{"k1", "k2"}, keys)
	assert.Equal(t, 1, cursor)

	stored, err := st.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
	storedKeys, err := st.Credentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, storedKeys)
}

func TestPool_ReloadClampsCorruptCursor(t *testing.T) {
	p, _ := newPool(t, []string{"k1"}, 9, "")
	idx, key, err := p.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "k1", key)
}
