package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/gchat/internal/attachments"
	"github.com/nextlevelbuilder/gchat/internal/batcher"
	"github.com/nextlevelbuilder/gchat/internal/bus"
	"github.com/nextlevelbuilder/gchat/internal/delivery"
	"github.com/nextlevelbuilder/gchat/internal/keyring"
	"github.com/nextlevelbuilder/gchat/internal/kv"
	"github.com/nextlevelbuilder/gchat/internal/media"
	"github.com/nextlevelbuilder/gchat/internal/prompt"
	"github.com/nextlevelbuilder/gchat/internal/sessions"
	"github.com/nextlevelbuilder/gchat/internal/store"
)

type echoGen struct {
	mu    sync.Mutex
	calls int
}

func (g *echoGen) Generate(context.Context, keyring.Request, keyring.Policy) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return "ok", nil
}

func (g *echoGen) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sent struct {
	chatID int64
	text   string
}

type recSender struct {
	mu    sync.Mutex
	texts []sent
	fail  error
}

func (s *recSender) SendTyping(context.Context, int64) error { return nil }
func (s *recSender) SendVoice(context.Context, int64, string, int) error {
	return errors.New("no voice")
}
func (s *recSender) SendText(_ context.Context, chatID int64, text string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.texts = append(s.texts, sent{chatID, text})
	return nil
}

type notes struct {
	mu   sync.Mutex
	list []string
}

func (n *notes) Notify(text string) {
	n.mu.Lock()
	n.list = append(n.list, text)
	n.mu.Unlock()
}

type fixture struct {
	r      *Router
	b      *batcher.Batcher
	agg    *attachments.Aggregator
	sess   *sessions.Manager
	st     *store.ConversationStore
	gen    *echoGen
	sender *recSender
	notes  *notes
	delays []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := store.NewConversationStore(kv.NewMemory(), "custom.gchat")
	sess, err := sessions.NewManager(ctx, st, "role", "secondary")
	require.NoError(t, err)
	pb, err := prompt.NewBuilder("UTC")
	require.NoError(t, err)

	f := &fixture{sess: sess, st: st, gen: &echoGen{}, sender: &recSender{}, notes: &notes{}}
	d := delivery.New(f.sender, nil, f.notes, delivery.Options{ReadingMax: time.Nanosecond})
	f.b = batcher.New(batcher.Deps{
		Sessions:  sess,
		Store:     st,
		Generator: f.gen,
		Deliverer: d,
		Prompts:   pb,
		Notifier:  f.notes,
	}, batcher.Options{ThinkDelays: []time.Duration{time.Millisecond}})
	f.agg = attachments.New(attachments.Deps{
		Sessions:  sess,
		Generator: f.gen,
		Deliverer: d,
		Prompts:   pb,
		Loader:    media.NewLoader(0, 0),
		Notifier:  f.notes,
	}, attachments.Options{Window: time.Hour})
	f.r = NewRouter(sess, f.b, f.agg, f.sender, f.notes, StickerOptions{
		Smileys:  []string{":)"},
		MinDelay: 5 * time.Second,
		MaxDelay: 10 * time.Second,
	})
	f.r.sleep = func(_ context.Context, d time.Duration) error {
		f.delays = append(f.delays, d)
		return nil
	}
	f.r.rng = func(n int64) int64 { return n - 1 }
	t.Cleanup(f.agg.Close)
	return f
}

func TestHandle_DisabledUserIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	forAll, err := f.sess.ToggleAll(ctx)
	require.NoError(t, err)
	require.True(t, forAll)
	require.NoError(t, f.sess.Disable(ctx, 9))

	require.NoError(t, f.r.Handle(ctx, bus.InboundMessage{Kind: bus.KindText, UserID: 9, ChatID: 9, SenderName: "Eve", Content: "hello"}))
	f.b.Wait()

	assert.False(t, f.sess.IsActive(9))
	assert.Empty(t, f.b.Pending(9))
	h, err := f.sess.History(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, h)
	q, err := f.st.Queue(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, q)
	assert.Zero(t, f.gen.count())
}

func TestHandle_NotEnabledWithoutForAll(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	require.NoError(t, f.r.Handle(context.Background(), bus.InboundMessage{Kind: bus.KindPhoto, UserID: 3, Media: p}))

	_, open := f.agg.Open(3)
	assert.False(t, open)
	assert.NoFileExists(t, p)
}

func TestHandle_TextReachesBatcher(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sess.Enable(ctx, 1))

	require.NoError(t, f.r.Handle(ctx, bus.InboundMessage{Kind: bus.KindText, UserID: 1, ChatID: 100, SenderName: "Ann", Content: "hi"}))
	f.b.Wait()

	assert.Equal(t, 1, f.gen.count())
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, []sent{{100, "ok"}}, f.sender.texts)
}

func TestHandle_PhotoOpensWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sess.Enable(ctx, 1))
	p := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	require.NoError(t, f.r.Handle(ctx, bus.InboundMessage{Kind: bus.KindPhoto, UserID: 1, ChatID: 100, Media: p}))

	n, open := f.agg.Open(1)
	assert.True(t, open)
	assert.Equal(t, 1, n)
}

func TestHandle_StickerGetsDelayedSmiley(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sess.Enable(ctx, 1))

	require.NoError(t, f.r.Handle(ctx, bus.InboundMessage{Kind: bus.KindSticker, UserID: 1, ChatID: 100}))
	f.r.Wait()

	// rng returns n-1, so the delay sits just under the upper bound.
	require.Len(t, f.delays, 1)
	assert.Equal(t, 10*time.Second-1, f.delays[0])
	assert.Equal(t, []sent{{100, ":)"}}, f.sender.texts)
	assert.Zero(t, f.gen.count())
}

func TestHandle_StickerSendFailureNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sess.Enable(ctx, 1))
	f.sender.fail = errors.New("blocked")

	require.NoError(t, f.r.Handle(ctx, bus.InboundMessage{Kind: bus.KindSticker, UserID: 1, ChatID: 100}))
	f.r.Wait()

	require.Len(t, f.notes.list, 1)
	assert.Equal(t, "An error occurred in `handle_sticker`: blocked", f.notes.list[0])
}

func TestHandle_UnknownKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sess.Enable(ctx, 1))

	err := f.r.Handle(ctx, bus.InboundMessage{Kind: "poll", UserID: 1})
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	mb := bus.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.sess.Enable(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- f.r.Run(ctx, mb) }()
	mb.PublishInbound(bus.InboundMessage{Kind: "poll", UserID: 1})

	require.Eventually(t, func() bool {
		f.notes.mu.Lock()
		defer f.notes.mu.Unlock()
		return len(f.notes.list) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("router did not stop")
	}
}
