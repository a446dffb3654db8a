package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/engine"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/inference"
	"github.com/rbright/parley/internal/prompt"
	"github.com/rbright/parley/internal/rag"
	"github.com/rbright/parley/internal/voice"
	"github.com/rbright/parley/internal/wakeword"
	"github.com/stretchr/testify/require"
)

// scriptedEngine answers each Chat call with the next reply. A reply of "" blocks
// after emitting "partial" until the request is cancelled.
type scriptedEngine struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []engine.ChatRequest
}

func (e *scriptedEngine) Chat(ctx context.Context, req engine.ChatRequest, onChunk func(string) error) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		err := e.err
		e.mu.Unlock()
		return err
	}
	reply := "ok"
	if len(e.replies) > 0 {
		reply = e.replies[0]
		e.replies = e.replies[1:]
	}
	e.mu.Unlock()

	if reply == "" {
		if err := onChunk("partial"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	for _, word := range strings.SplitAfter(reply, " ") {
		if err := onChunk(word); err != nil {
			return err
		}
	}
	return nil
}

func (e *scriptedEngine) last() engine.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func (e *scriptedEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

type recordingRetriever struct {
	mu    sync.Mutex
	paths []string
	query string
}

func (r *recordingRetriever) Retrieve(_ context.Context, query string, paths []string, _ config.RAGSettings) ([]rag.Snippet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query = query
	r.paths = append([]string(nil), paths...)
	return []rag.Snippet{{Source: paths[0], Text: "the launch is on friday", Score: 0.9}}, nil
}

type memoryStore struct {
	mu       sync.Mutex
	settings config.Settings
	saves    int
}

func (s *memoryStore) Load() (config.Loaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return config.Loaded{Settings: s.settings.Clone(), Exists: true}, nil
}

func (s *memoryStore) Save(settings config.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Clone()
	s.saves++
	return nil
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type recordingPresenter struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPresenter) add(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPresenter) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *recordingPresenter) has(event string) bool {
	return slices.Contains(p.snapshot(), event)
}

func (p *recordingPresenter) OnTurn(t Turn) {
	if t.Interrupted {
		p.add("turn:" + string(t.Role) + ":interrupted:" + t.Text)
		return
	}
	p.add("turn:" + string(t.Role) + ":" + t.Text)
}
func (p *recordingPresenter) OnChunk(text string)            { p.add("chunk:" + text) }
func (p *recordingPresenter) OnComplete()                    { p.add("complete") }
func (p *recordingPresenter) OnInferenceError(msg string)    { p.add("inference-error:" + msg) }
func (p *recordingPresenter) OnSpeechResult(input string)    { p.add("speech:" + input) }
func (p *recordingPresenter) OnSpeechError(msg string)       { p.add("speech-error:" + msg) }
func (p *recordingPresenter) OnWakeWord(trigger string)      { p.add("wake:" + trigger) }
func (p *recordingPresenter) OnHotkeyToggle()                { p.add("hotkey") }
func (p *recordingPresenter) OnShow()                        { p.add("show") }
func (p *recordingPresenter) OnCleared()                     { p.add("cleared") }
func (p *recordingPresenter) OnRestartRequired(msg string)   { p.add("restart:" + msg) }
func (p *recordingPresenter) OnAttachments(set AttachmentSet) { p.add("attachments") }

type fakeVoice struct {
	mu     sync.Mutex
	state  fsm.State
	sink   voice.Sink
	starts int
	stops  int
}

func (v *fakeVoice) Start(_ context.Context, sink voice.Sink) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == fsm.StateListening {
		return voice.ErrAlreadyRunning
	}
	v.state = fsm.StateListening
	v.sink = sink
	v.starts++
	return nil
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stops++
}

func (v *fakeVoice) State() fsm.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == "" {
		return fsm.StateIdle
	}
	return v.state
}

func (v *fakeVoice) recognize(text string) {
	v.mu.Lock()
	sink := v.sink
	v.state = fsm.StateRecognized
	v.mu.Unlock()
	sink.Recognized(text)
}

func (v *fakeVoice) counts() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.starts, v.stops
}

type fakeWake struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	activate func(wakeword.Activation)
}

func (w *fakeWake) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	return nil
}

func (w *fakeWake) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *fakeWake) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

type wakeFactory struct {
	mu        sync.Mutex
	listeners []*fakeWake
}

func (f *wakeFactory) build(_ config.Settings, onActivate func(wakeword.Activation)) (WakeListener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeWake{activate: onActivate}
	f.listeners = append(f.listeners, l)
	return l, nil
}

func (f *wakeFactory) all() []*fakeWake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeWake(nil), f.listeners...)
}

type recordingCopier struct {
	mu   sync.Mutex
	text string
}

func (c *recordingCopier) Copy(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

type harness struct {
	ctrl      *Controller
	engine    *scriptedEngine
	retriever *recordingRetriever
	store     *memoryStore
	presenter *recordingPresenter
	voice     *fakeVoice
	wake      *wakeFactory
	copier    *recordingCopier
	quit      chan struct{}
}

func newHarness(t *testing.T, mutate func(*config.Settings)) *harness {
	t.Helper()

	settings := config.Default()
	if mutate != nil {
		mutate(&settings)
	}

	h := &harness{
		engine:    &scriptedEngine{},
		retriever: &recordingRetriever{},
		store:     &memoryStore{settings: settings},
		presenter: &recordingPresenter{},
		voice:     &fakeVoice{},
		wake:      &wakeFactory{},
		copier:    &recordingCopier{},
		quit:      make(chan struct{}, 1),
	}

	ctrl, err := New(Deps{
		Store:           h.store,
		Settings:        settings,
		Inference:       inference.NewWorker(h.engine, h.retriever, nil),
		NewVoice:        func(config.Settings) VoiceWorker { return h.voice },
		NewWakeListener: h.wake.build,
		Clipboard:       h.copier,
		Presenter:       h.presenter,
		Quit:            func() { h.quit <- struct{}{} },
	})
	require.NoError(t, err)
	h.ctrl = ctrl

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-runDone)
	})
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAskStreamsReplyAndRecordsTranscript(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.replies = []string{"hello there"}

	reply, err := h.ctrl.Ask(testContext(t), "hi")
	require.NoError(t, err)
	require.Equal(t, "hello there", reply)

	req := h.engine.last()
	require.Equal(t, "llama3.2:1b", req.Model)
	require.Equal(t, "hi \nGenerate a short and simple response.", req.Messages[0].Content)

	require.Equal(t, []string{
		"turn:user:hi",
		"chunk:hello ",
		"chunk:there",
		"complete",
	}, h.presenter.snapshot())

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, "idle", snap.State)
	require.Len(t, snap.Transcript, 2)
	require.Equal(t, "hello there", snap.LastResponse)
	require.Len(t, snap.History, 2)
}

func TestNamedTaskClearsConversationFirst(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.ctrl.Ask(testContext(t), "first")
	require.NoError(t, err)

	h.ctrl.Submit(prompt.TaskSummarize, "a long article")
	require.Eventually(t, func() bool {
		return strings.Count(strings.Join(h.presenter.snapshot(), "|"), "complete") == 2
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, h.presenter.has("cleared"))
	req := h.engine.last()
	require.Len(t, req.Messages, 1)
	require.Equal(t, "Summarize the following text: a long article", req.Messages[0].Content)

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2)
	require.Equal(t, prompt.TaskSummarize, snap.Transcript[0].Task)
}

func TestResetAndEmptyInputDispatchNothing(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.Ask(testContext(t), "hello")
	require.NoError(t, err)
	h.ctrl.Attach("/tmp/notes.txt", "/tmp/photo.png")

	for _, input := range []string{"cls", " clear ", "", "   "} {
		_, err := h.ctrl.Ask(testContext(t), input)
		require.ErrorIs(t, err, ErrNoInput, "input %q", input)
	}
	require.Equal(t, 1, h.engine.calls())

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Empty(t, snap.Transcript)
	require.Empty(t, snap.History)
	require.True(t, snap.Attachments.Empty())
	require.Empty(t, snap.LastResponse)
}

func TestAttachClassifiesDeduplicatesAndReplaces(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Attach("/docs/a.PDF", "/docs/a.PDF", "/img/one.png", "/img/two.JPG", "/bin/tool.exe", "/docs/b.docx")
	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, []string{"/docs/a.PDF", "/docs/b.docx"}, snap.Attachments.Documents)
	require.Equal(t, "/img/two.JPG", snap.Attachments.Image)

	h.ctrl.RemoveAttachment("/docs/a.PDF")
	h.ctrl.RemoveAttachment("/img/two.JPG")
	snap, err = h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, []string{"/docs/b.docx"}, snap.Attachments.Documents)
	require.Empty(t, snap.Attachments.Image)

	h.ctrl.ClearAttachments()
	snap, err = h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.True(t, snap.Attachments.Empty())
}

func TestImageRequestUsesMultimodalModelAndConsumesImage(t *testing.T) {
	h := newHarness(t, nil)

	dir := t.TempDir()
	image := filepath.Join(dir, "cat.png")
	require.NoError(t, os.WriteFile(image, []byte("png-bytes"), 0o600))
	doc := filepath.Join(dir, "notes.txt")

	h.ctrl.Attach(image, doc)
	_, err := h.ctrl.Ask(testContext(t), "what is this")
	require.NoError(t, err)

	req := h.engine.last()
	require.Equal(t, "moondream:1.8b", req.Model)
	require.Equal(t, [][]byte{[]byte("png-bytes")}, req.Messages[0].Images)
	require.Empty(t, h.retriever.paths)

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Empty(t, snap.Attachments.Image)
	require.Equal(t, []string{doc}, snap.Attachments.Documents)
	require.Equal(t, image, snap.Transcript[0].Image)
}

func TestTextRequestForwardsDocuments(t *testing.T) {
	h := newHarness(t, nil)
	doc := filepath.Join(t.TempDir(), "plan.txt")

	h.ctrl.Attach(doc)
	_, err := h.ctrl.Ask(testContext(t), "when is the launch")
	require.NoError(t, err)

	require.Equal(t, []string{doc}, h.retriever.paths)
	require.Equal(t, "when is the launch", h.retriever.query)
	require.Contains(t, h.engine.last().Messages[0].Content, "the launch is on friday")

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, []string{doc}, snap.Attachments.Documents)
}

func TestThinkUsesReasoningModel(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.Think("why is the sky blue")
	require.Eventually(t, func() bool { return h.presenter.has("complete") }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "deepseek-r1:1.5b", h.engine.last().Model)
}

func TestNewInputAbandonsRunningRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.replies = []string{"", "fresh answer"}

	firstCtx := testContext(t)
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Ask(firstCtx, "slow question")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return h.presenter.has("chunk:partial") }, 2*time.Second, 5*time.Millisecond)

	reply, err := h.ctrl.Ask(testContext(t), "new question")
	require.NoError(t, err)
	require.Equal(t, "fresh answer", reply)
	require.ErrorIs(t, <-firstErr, ErrSuperseded)

	require.Equal(t, []string{
		"turn:user:slow question",
		"chunk:partial",
		"turn:assistant:interrupted:partial",
		"turn:user:new question",
		"chunk:fresh ",
		"chunk:answer",
		"complete",
	}, h.presenter.snapshot())

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Len(t, snap.History, 2)
	require.Contains(t, snap.History[0].Content, "new question")
	require.Equal(t, "fresh answer", snap.LastResponse)
}

func TestNewInputDropsCompletedButUndrainedReplyFromHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.replies = []string{"first answer", "second answer"}

	// Both submissions run inside one closure so the first completion is still
	// queued behind it when the second request abandons the first.
	err := h.ctrl.call(testContext(t), func() {
		h.ctrl.submit(prompt.TaskChat, kindChat, "question one", nil)
		deadline := time.Now().Add(2 * time.Second)
		for h.ctrl.worker.State() != fsm.StateCompleted && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		h.ctrl.submit(prompt.TaskChat, kindChat, "question two", nil)
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.presenter.has("complete") }, 2*time.Second, 5*time.Millisecond)

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Len(t, snap.History, 2)
	require.Contains(t, snap.History[0].Content, "question two")
	require.Equal(t, "second answer", snap.History[1].Content)
	for _, turn := range snap.History {
		require.NotContains(t, turn.Content, "first answer")
	}

	req := h.engine.last()
	require.Len(t, req.Messages, 1)
	require.Contains(t, req.Messages[0].Content, "question two")
}

func TestInferenceFailureIsReported(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.err = errors.New("model not found")

	_, err := h.ctrl.Ask(testContext(t), "hi")
	require.ErrorContains(t, err, "model not found")
	require.True(t, h.presenter.has("inference-error:model not found"))

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Empty(t, snap.History)
	require.Equal(t, "idle", snap.State)
}

func TestApplySettingsRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Settings)
		field  string
	}{
		{name: "transparency", mutate: func(s *config.Settings) { s.Transparency = 101 }, field: "transparency"},
		{name: "top_k", mutate: func(s *config.Settings) { s.Generation.TopK = 0 }, field: "generation.top_k"},
		{name: "shortcut", mutate: func(s *config.Settings) { s.Shortcut = "<cmd>+<shift>" }, field: "shortcut"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			next := config.Default()
			tc.mutate(&next)

			err := h.ctrl.ApplySettings(testContext(t), next)
			var verr *config.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
			require.Zero(t, h.store.saveCount())

			snap, err := h.ctrl.Snapshot(testContext(t))
			require.NoError(t, err)
			require.Equal(t, config.Default(), snap.Settings)
		})
	}
}

func TestApplySettingsPersistsAndReportsRestart(t *testing.T) {
	h := newHarness(t, nil)

	next := config.Default()
	next.Shortcut = "<ctrl>+<alt>+l"
	next.TextModel = "llama3.2:3b"
	require.NoError(t, h.ctrl.ApplySettings(testContext(t), next))
	require.Equal(t, 1, h.store.saveCount())
	require.True(t, h.presenter.has("restart:shortcut changed to <ctrl>+<alt>+l; restart parley to apply"))

	_, err := h.ctrl.Ask(testContext(t), "hi")
	require.NoError(t, err)
	require.Equal(t, "llama3.2:3b", h.engine.last().Model)
}

func TestApplySettingsReconcilesWakeWordListener(t *testing.T) {
	h := newHarness(t, nil)
	require.Empty(t, h.wake.all())

	enabled := config.Default()
	enabled.WakeWordChat = true
	require.NoError(t, h.ctrl.ApplySettings(testContext(t), enabled))
	require.Len(t, h.wake.all(), 1)

	rephrased := enabled.Clone()
	rephrased.Speech.WakePhrases = []string{"hey parley"}
	require.NoError(t, h.ctrl.ApplySettings(testContext(t), rephrased))
	listeners := h.wake.all()
	require.Len(t, listeners, 2)
	require.Eventually(t, listeners[0].isStopped, time.Second, 5*time.Millisecond)

	disabled := rephrased.Clone()
	disabled.WakeWordChat = false
	require.NoError(t, h.ctrl.ApplySettings(testContext(t), disabled))
	require.Eventually(t, listeners[1].isStopped, time.Second, 5*time.Millisecond)
	require.Len(t, h.wake.all(), 2)
}

func TestWakeActivationShowsAndStartsVoiceInput(t *testing.T) {
	h := newHarness(t, func(s *config.Settings) {
		s.WakeWordChat = true
		s.WakeWordMic = true
	})
	require.Eventually(t, func() bool { return len(h.wake.all()) == 1 }, time.Second, 5*time.Millisecond)

	h.wake.all()[0].activate(wakeword.Activation{Trigger: "hey llama", Phrase: "hey llama what time is it"})
	require.Eventually(t, func() bool {
		starts, _ := h.voice.counts()
		return starts == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.presenter.has("wake:hey llama"))
	require.True(t, h.presenter.has("show"))

	h.voice.recognize("what time is it")
	require.Eventually(t, func() bool { return h.presenter.has("speech:what time is it") }, time.Second, 5*time.Millisecond)

	reply, err := h.ctrl.Ask(testContext(t), "")
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
	require.Equal(t, "what time is it \nGenerate a short and simple response.", h.engine.last().Messages[0].Content)
}

func TestSpeechResultAppendsToPendingInput(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.SetInput("first line")
	h.ctrl.ToggleVoice()
	require.Eventually(t, func() bool {
		starts, _ := h.voice.counts()
		return starts == 1
	}, time.Second, 5*time.Millisecond)

	h.voice.recognize("second line")
	require.Eventually(t, func() bool { return h.presenter.has("speech:first line\nsecond line") }, time.Second, 5*time.Millisecond)

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, "first line\nsecond line", snap.Draft)
}

func TestToggleVoiceStopsActiveCapture(t *testing.T) {
	h := newHarness(t, nil)

	h.ctrl.ToggleVoice()
	h.ctrl.ToggleVoice()
	require.Eventually(t, func() bool {
		starts, stops := h.voice.counts()
		return starts == 1 && stops == 1
	}, time.Second, 5*time.Millisecond)

	snap, err := h.ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.Equal(t, "listening", snap.State)
}

func TestCopyResultCopiesLastReply(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.replies = []string{"copy me"}

	_, err := h.ctrl.Ask(testContext(t), "hi")
	require.NoError(t, err)
	require.NoError(t, h.ctrl.CopyResult(testContext(t)))
	require.Equal(t, "copy me", h.copier.text)
}

func TestRunTwiceAndCallsAfterStop(t *testing.T) {
	ctrl, err := New(Deps{
		Store:     &memoryStore{settings: config.Default()},
		Settings:  config.Default(),
		Inference: inference.NewWorker(&scriptedEngine{}, nil, nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	_, err = ctrl.Snapshot(testContext(t))
	require.NoError(t, err)
	require.ErrorIs(t, ctrl.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)

	_, err = ctrl.Snapshot(testContext(t))
	require.ErrorIs(t, err, ErrStopped)
	_, err = ctrl.Ask(testContext(t), "hi")
	require.ErrorIs(t, err, ErrStopped)
}

func TestNewRequiresStoreAndInference(t *testing.T) {
	_, err := New(Deps{Inference: inference.NewWorker(&scriptedEngine{}, nil, nil)})
	require.Error(t, err)
	_, err = New(Deps{Store: &memoryStore{}})
	require.Error(t, err)
}
