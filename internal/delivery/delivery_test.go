package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	kind    string
	chatID  int64
	payload string
	replyTo int
}

type fakeSender struct {
	mu       sync.Mutex
	log      []sent
	voiceErr error
	// voiceExisted records whether the voice file was on disk at send time.
	voiceExisted bool
}

func (f *fakeSender) SendTyping(_ context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, sent{kind: "typing", chatID: chatID})
	return nil
}

func (f *fakeSender) SendText(_ context.Context, chatID int64, text string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, sent{kind: "text", chatID: chatID, payload: text, replyTo: replyTo})
	return nil
}

func (f *fakeSender) SendVoice(_ context.Context, chatID int64, path string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(path)
	f.voiceExisted = err == nil
	f.log = append(f.log, sent{kind: "voice", chatID: chatID, payload: path, replyTo: replyTo})
	return f.voiceErr
}

func (f *fakeSender) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.log {
		out = append(out, s.kind)
	}
	return out
}

type fakeSynth struct {
	dir  string
	err  error
	text string
	path string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (string, error) {
	f.text = text
	if f.err != nil {
		return "", f.err
	}
	f.path = filepath.Join(f.dir, "voice.mp3")
	return f.path, os.WriteFile(f.path, []byte("audio"), 0o600)
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

func newDeliverer(s Sender, synth *fakeSynth, n *notes) (*Deliverer, *[]time.Duration) {
	var d *Deliverer
	if synth == nil {
		d = New(s, nil, n, Options{CharDelay: 30 * time.Millisecond, VoicePrefix: ".el"})
	} else {
		d = New(s, synth, n, Options{CharDelay: 30 * time.Millisecond, VoicePrefix: ".el"})
	}
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func seq(replies ...string) (GenerateFunc, *int) {
	calls := 0
	return func(context.Context) (string, error) {
		r := replies[min(calls, len(replies)-1)]
		calls++
		return r, nil
	}, &calls
}

func TestValidate_LengthBoundary(t *testing.T) {
	n := &notes{}
	d, _ := newDeliverer(&fakeSender{}, nil, n)

	exact := strings.Repeat("a", 200)
	gen, calls := seq(exact)
	got, err := d.Validate(context.Background(), 7, gen)
	require.NoError(t, err)
	assert.Equal(t, exact, got)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, n.list)

	gen, calls = seq(strings.Repeat("a", 201), "short")
	got, err = d.Validate(context.Background(), 7, gen)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, []string{"Retrying response generation for user: 7 due to long response."}, n.list)
}

func TestValidate_GivesUpAfterMaxAttempts(t *testing.T) {
	n := &notes{}
	d, _ := newDeliverer(&fakeSender{}, nil, n)

	gen, calls := seq(strings.Repeat("x", 300))
	_, err := d.Validate(context.Background(), 7, gen)
	require.ErrorIs(t, err, ErrTooLong)
	assert.Equal(t, 5, *calls)
	require.Len(t, n.list, 5)
	assert.Equal(t, "Failed to generate a suitable response after 5 attempts for user: 7", n.list[4])
}

func TestValidate_RetriesBlankReply(t *testing.T) {
	n := &notes{}
	d, _ := newDeliverer(&fakeSender{}, nil, n)

	gen, calls := seq("", " \n\t", "hello")
	got, err := d.Validate(context.Background(), 7, gen)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []string{
		"Retrying response generation for user: 7 due to empty response.",
		"Retrying response generation for user: 7 due to empty response.",
	}, n.list)
}

func TestValidate_AllBlankSendsNothing(t *testing.T) {
	s := &fakeSender{}
	n := &notes{}
	d, _ := newDeliverer(s, nil, n)

	gen, calls := seq("   ")
	got, err := d.Validate(context.Background(), 7, gen)
	require.ErrorIs(t, err, ErrEmpty)
	assert.True(t, Unusable(err))
	assert.Empty(t, got)
	assert.Equal(t, 5, *calls)
	assert.Empty(t, s.log)
}

func TestValidate_MixedFailuresReportLength(t *testing.T) {
	d, _ := newDeliverer(&fakeSender{}, nil, &notes{})

	gen, _ := seq("", strings.Repeat("x", 300), "")
	_, err := d.Validate(context.Background(), 7, gen)
	require.ErrorIs(t, err, ErrTooLong)
	assert.True(t, Unusable(err))
}

func TestValidate_PropagatesGenerationError(t *testing.T) {
	d, _ := newDeliverer(&fakeSender{}, nil, &notes{})
	boom := errors.New("boom")
	_, err := d.Validate(context.Background(), 7, func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestDeliver_TextIsPaced(t *testing.T) {
	s := &fakeSender{}
	d, slept := newDeliverer(s, nil, &notes{})

	text := strings.Repeat("a", 100) // 3s of typing
	res, err := d.Deliver(context.Background(), Target{UserID: 1, ChatID: 10, ReplyTo: 5}, text)
	require.NoError(t, err)
	assert.Equal(t, Result{Mode: ModeText, Text: text}, res)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second}, *slept)
	assert.Equal(t, []string{"typing", "typing", "text"}, s.kinds())
	assert.Equal(t, 5, s.log[2].replyTo)
}

func TestDeliver_VoiceRemovesTempFile(t *testing.T) {
	s := &fakeSender{}
	synth := &fakeSynth{dir: t.TempDir()}
	d, slept := newDeliverer(s, synth, &notes{})

	res, err := d.Deliver(context.Background(), Target{UserID: 1, ChatID: 10}, ".elhello")
	require.NoError(t, err)
	assert.Equal(t, Result{Mode: ModeVoice, Text: "hello"}, res)
	assert.Equal(t, "hello", synth.text)
	assert.True(t, s.voiceExisted)
	assert.Empty(t, *slept)
	assert.NoFileExists(t, synth.path)
}

func TestDeliver_VoiceSendFailureStillRemovesFile(t *testing.T) {
	s := &fakeSender{voiceErr: errors.New("network")}
	synth := &fakeSynth{dir: t.TempDir()}
	d, _ := newDeliverer(s, synth, &notes{})

	res, err := d.Deliver(context.Background(), Target{UserID: 1, ChatID: 10}, ".elhello")
	require.NoError(t, err)
	assert.Equal(t, ModeText, res.Mode)
	assert.NoFileExists(t, synth.path)
	assert.Equal(t, "hello", s.log[len(s.log)-1].payload)
}

func TestDeliver_SynthesisFailureFallsBackToText(t *testing.T) {
	s := &fakeSender{}
	synth := &fakeSynth{dir: t.TempDir(), err: errors.New("quota")}
	d, _ := newDeliverer(s, synth, &notes{})

	res, err := d.Deliver(context.Background(), Target{UserID: 1, ChatID: 10}, ".el  hi there")
	require.NoError(t, err)
	assert.Equal(t, Result{Mode: ModeText, Text: "hi there"}, res)
	assert.NotContains(t, s.kinds(), "voice")
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, ReadingTime("hello", 5*time.Second))
	assert.Equal(t, 5*time.Second, ReadingTime(strings.Repeat("a", 500), 5*time.Second))
}

func TestReading_SendsTypingAndWaits(t *testing.T) {
	s := &fakeSender{}
	d, slept := newDeliverer(s, nil, &notes{})
	require.NoError(t, d.Reading(context.Background(), 10, "hello"))
	assert.Equal(t, []string{"typing"}, s.kinds())
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, *slept)
}
