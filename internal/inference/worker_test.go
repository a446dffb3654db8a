package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/engine"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/rag"
)

type scriptedEngine struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	block    chan struct{}
	requests []engine.ChatRequest
}

func (e *scriptedEngine) Chat(ctx context.Context, req engine.ChatRequest, onChunk func(string) error) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	for _, chunk := range e.chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.err
}

func (e *scriptedEngine) lastRequest() engine.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

type recordingSink struct {
	mu        sync.Mutex
	chunks    []string
	completed int
	failures  []error
	finished  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{finished: make(chan struct{}, 1)}
}

func (s *recordingSink) Chunk(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, text)
}

func (s *recordingSink) Complete() {
	s.mu.Lock()
	s.completed++
	s.mu.Unlock()
	s.finished <- struct{}{}
}

func (s *recordingSink) Fail(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
	s.finished <- struct{}{}
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal sink call")
	}
}

type fakeRetriever struct {
	snippets []rag.Snippet
	err      error
	paths    []string
	query    string
}

func (r *fakeRetriever) Retrieve(_ context.Context, query string, paths []string, _ config.RAGSettings) ([]rag.Snippet, error) {
	r.query = query
	r.paths = paths
	return r.snippets, r.err
}

func textRequest(prompt string) Request {
	return Request{
		Model:      "llama3.2:1b",
		Prompt:     prompt,
		Generation: config.Default().Generation,
		RAG:        config.Default().RAG,
	}
}

func TestWorkerStreamsChunksThenCompletes(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"Hel", "lo", "!"}}
	worker := NewWorker(eng, nil, nil)
	sink := newRecordingSink()

	require.NoError(t, worker.Start(context.Background(), textRequest("hi"), sink))
	sink.wait(t)
	worker.Wait()

	require.Equal(t, []string{"Hel", "lo", "!"}, sink.chunks)
	require.Equal(t, 1, sink.completed)
	require.Empty(t, sink.failures)
	require.Equal(t, fsm.StateCompleted, worker.State())
	require.Equal(t, []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "Hello!"}}, worker.History())

	req := eng.lastRequest()
	require.Equal(t, "llama3.2:1b", req.Model)
	require.Equal(t, 2048, req.Options.ContextLen)
	require.InDelta(t, 0.8, req.Options.Temperature, 1e-9)
}

func TestWorkerCarriesHistoryAcrossTurns(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"one"}}
	worker := NewWorker(eng, nil, nil)

	first := newRecordingSink()
	require.NoError(t, worker.Start(context.Background(), textRequest("a"), first))
	first.wait(t)
	worker.Wait()

	second := newRecordingSink()
	require.NoError(t, worker.Start(context.Background(), textRequest("b"), second))
	second.wait(t)
	worker.Wait()

	messages := eng.lastRequest().Messages
	require.Len(t, messages, 3)
	require.Equal(t, "a", messages[0].Content)
	require.Equal(t, "assistant", messages[1].Role)
	require.Equal(t, "b", messages[2].Content)
	require.Len(t, worker.History(), 4)

	require.NoError(t, worker.ClearHistory())
	require.Empty(t, worker.History())
}

func TestWorkerFailureKeepsHistoryAndReportsOnce(t *testing.T) {
	boom := errors.New("model not found")
	eng := &scriptedEngine{chunks: []string{"par"}, err: boom}
	worker := NewWorker(eng, nil, nil)
	sink := newRecordingSink()

	require.NoError(t, worker.Start(context.Background(), textRequest("hi"), sink))
	sink.wait(t)
	worker.Wait()

	require.Equal(t, fsm.StateFailed, worker.State())
	require.Len(t, sink.failures, 1)
	require.ErrorIs(t, sink.failures[0], boom)
	require.Zero(t, sink.completed)
	require.Empty(t, worker.History())
}

func TestWorkerBusyAndCancel(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"partial"}, block: make(chan struct{})}
	worker := NewWorker(eng, nil, nil)
	sink := newRecordingSink()

	require.NoError(t, worker.Start(context.Background(), textRequest("hi"), sink))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.chunks) == 1
	}, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, worker.Start(context.Background(), textRequest("again"), newRecordingSink()), ErrBusy)
	require.ErrorIs(t, worker.ClearHistory(), ErrBusy)

	worker.Cancel()
	worker.Wait()

	require.Equal(t, fsm.StateCancelled, worker.State())
	require.Zero(t, sink.completed)
	require.Empty(t, sink.failures)
	require.Empty(t, worker.History())
	require.NoError(t, worker.ClearHistory())
}

func TestWorkerParentContextCancellationCancels(t *testing.T) {
	eng := &scriptedEngine{block: make(chan struct{})}
	worker := NewWorker(eng, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, worker.Start(ctx, textRequest("hi"), newRecordingSink()))
	cancel()
	worker.Wait()
	require.Equal(t, fsm.StateCancelled, worker.State())
}

func TestWorkerEmbedsImageInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	eng := &scriptedEngine{chunks: []string{"a cat"}}
	retriever := &fakeRetriever{}
	worker := NewWorker(eng, retriever, nil)
	sink := newRecordingSink()

	req := textRequest("what is this?")
	req.Model = "moondream:1.8b"
	req.ImagePath = path
	req.Documents = []string{"/tmp/ignored.pdf"}
	require.NoError(t, worker.Start(context.Background(), req, sink))
	sink.wait(t)

	user := eng.lastRequest().Messages[0]
	require.Equal(t, [][]byte{{0x89, 'P', 'N', 'G'}}, user.Images)
	require.Equal(t, "what is this?", user.Content)
	require.Nil(t, retriever.paths)
}

func TestWorkerMissingImageFails(t *testing.T) {
	worker := NewWorker(&scriptedEngine{}, nil, nil)
	sink := newRecordingSink()

	req := textRequest("what is this?")
	req.ImagePath = filepath.Join(t.TempDir(), "missing.png")
	require.NoError(t, worker.Start(context.Background(), req, sink))
	sink.wait(t)
	require.Len(t, sink.failures, 1)
	require.Contains(t, sink.failures[0].Error(), "read image missing.png")
}

func TestWorkerAugmentsPromptWithDocuments(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"answer"}}
	retriever := &fakeRetriever{snippets: []rag.Snippet{{Source: "/docs/a.txt", Text: "the sky is green", Score: 0.9}}}
	worker := NewWorker(eng, retriever, nil)
	sink := newRecordingSink()

	req := textRequest("what color is the sky?")
	req.Documents = []string{"/docs/a.txt"}
	require.NoError(t, worker.Start(context.Background(), req, sink))
	sink.wait(t)
	worker.Wait()

	require.Equal(t, []string{"/docs/a.txt"}, retriever.paths)
	require.Equal(t, "what color is the sky?", retriever.query)
	content := eng.lastRequest().Messages[0].Content
	require.Contains(t, content, "the sky is green")
	require.Contains(t, content, "Query: what color is the sky?")
	require.Equal(t, "what color is the sky?", worker.History()[0].Content)
}

func TestWorkerRetrievesWithRawQuery(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"answer"}}
	retriever := &fakeRetriever{snippets: []rag.Snippet{{Source: "/docs/a.txt", Text: "the sky is green", Score: 0.9}}}
	worker := NewWorker(eng, retriever, nil)
	sink := newRecordingSink()

	req := textRequest("what color is the sky? \nGenerate a short and simple response.")
	req.Query = "what color is the sky?"
	req.Documents = []string{"/docs/a.txt"}
	require.NoError(t, worker.Start(context.Background(), req, sink))
	sink.wait(t)
	worker.Wait()

	require.Equal(t, "what color is the sky?", retriever.query)
	require.Contains(t, eng.lastRequest().Messages[0].Content, "Generate a short and simple response.")
}

func TestWorkerRetrievalFailureFails(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("no readable documents")}
	worker := NewWorker(&scriptedEngine{}, retriever, nil)
	sink := newRecordingSink()

	req := textRequest("q")
	req.Documents = []string{"/docs/a.doc"}
	require.NoError(t, worker.Start(context.Background(), req, sink))
	sink.wait(t)
	require.Len(t, sink.failures, 1)
	require.Contains(t, sink.failures[0].Error(), "retrieve document context")
}

func TestWorkerRejectsMissingModel(t *testing.T) {
	worker := NewWorker(&scriptedEngine{}, nil, nil)
	req := textRequest("q")
	req.Model = ""
	require.Error(t, worker.Start(context.Background(), req, newRecordingSink()))
	require.Equal(t, fsm.StateIdle, worker.State())
}

func TestSinkFuncsToleratesNilFields(t *testing.T) {
	var sink Sink = SinkFuncs{}
	sink.Chunk("x")
	sink.Complete()
	sink.Fail(errors.New("x"))
}

func TestWorkerForkAtKeepsCompletedHistory(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"one"}}
	worker := NewWorker(eng, nil, nil)

	first := newRecordingSink()
	require.NoError(t, worker.Start(context.Background(), textRequest("a"), first))
	first.wait(t)
	worker.Wait()

	eng.mu.Lock()
	eng.block = make(chan struct{})
	eng.mu.Unlock()
	require.NoError(t, worker.Start(context.Background(), textRequest("b"), newRecordingSink()))

	fork := worker.ForkAt(len(worker.History()))
	worker.Cancel()
	worker.Wait()

	require.Equal(t, fsm.StateIdle, fork.State())
	require.Equal(t, []Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "one"}}, fork.History())

	eng.mu.Lock()
	eng.block = nil
	eng.mu.Unlock()
	next := newRecordingSink()
	require.NoError(t, fork.Start(context.Background(), textRequest("c"), next))
	next.wait(t)
	fork.Wait()
	require.Len(t, fork.History(), 4)
	require.Len(t, worker.History(), 2)
}

func TestWorkerForkAtDropsTurnsPastTheCut(t *testing.T) {
	eng := &scriptedEngine{chunks: []string{"one"}}
	worker := NewWorker(eng, nil, nil)

	for _, prompt := range []string{"a", "b"} {
		sink := newRecordingSink()
		require.NoError(t, worker.Start(context.Background(), textRequest(prompt), sink))
		sink.wait(t)
		worker.Wait()
	}
	require.Len(t, worker.History(), 4)

	require.Equal(t, []Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "one"}}, worker.ForkAt(2).History())
	require.Empty(t, worker.ForkAt(-1).History())
	require.Len(t, worker.ForkAt(10).History(), 4)
}
