// Package riva streams PCM audio to an NVIDIA Riva ASR server and merges the
// returned hypotheses into a transcript.
package riva

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const recognizeMethod = "/nvidia.riva.asr.RivaSpeechRecognition/StreamingRecognize"

var recognizeDesc = grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ClientStreams: true,
	ServerStreams: true,
}

// SpeechPhrase is one vocabulary boost phrase in request-ready form.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}

// StreamConfig controls stream initialization and recognition behavior.
type StreamConfig struct {
	Endpoint             string
	LanguageCode         string
	Model                string
	SampleRate           int
	AutomaticPunctuation bool
	InterimResults       bool
	SpeechPhrases        []SpeechPhrase
	DialTimeout          time.Duration
	OpenTimeout          time.Duration

	// DebugResponseSinkJSON receives one JSON line per decoded response.
	DebugResponseSinkJSON io.Writer

	// OnResult observes every decoded result from the receive goroutine.
	OnResult func(Result)
}

// Stream wraps one active StreamingRecognize RPC lifecycle.
type Stream struct {
	conn     *grpc.ClientConn
	stream   grpc.ClientStream
	cancel   context.CancelFunc
	onResult func(Result)
	debug    io.Writer

	recvDone chan struct{}
	sendMu   sync.Mutex

	mu          sync.Mutex
	segments    []string // committed transcript segments (final and divergence-committed interim)
	lastInterim string
	recvErr     error
	closedSend  bool
}

func dial(endpoint string) (*grpc.ClientConn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("riva endpoint is empty")
	}
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial riva grpc %q: %w", endpoint, err)
	}
	return conn, nil
}

// DialStream establishes a stream, sends the recognition config, and starts the
// receive loop.
func DialStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 2 * time.Second
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}

	conn, err := dial(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	readyCtx, cancelReady := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancelReady()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for riva grpc readiness: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var stream grpc.ClientStream
	err = runWithTimeout(ctx, cfg.OpenTimeout, func() error {
		var openErr error
		stream, openErr = conn.NewStream(streamCtx, &recognizeDesc, recognizeMethod, grpc.ForceCodec(rawCodec{}))
		if openErr != nil {
			return openErr
		}
		return stream.SendMsg(encodeConfigRequest(cfg))
	})
	if err != nil {
		cancel()
		_ = conn.Close()
		return nil, fmt.Errorf("open streaming recognizer: %w", err)
	}

	s := &Stream{
		conn:     conn,
		stream:   stream,
		cancel:   cancel,
		onResult: cfg.OnResult,
		debug:    cfg.DebugResponseSinkJSON,
		recvDone: make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// recvLoop receives recognition responses until the stream closes or fails.
func (s *Stream) recvLoop() {
	defer close(s.recvDone)

	for {
		var frame []byte
		err := s.stream.RecvMsg(&frame)
		if err == nil {
			results, decodeErr := decodeResponse(frame)
			if decodeErr != nil {
				err = fmt.Errorf("decode streaming response: %w", decodeErr)
			} else {
				s.recordResults(results)
				continue
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}

		s.mu.Lock()
		s.recvErr = err
		s.mu.Unlock()
		return
	}
}

// recordResults merges final and interim hypotheses into stream state.
func (s *Stream) recordResults(results []Result) {
	if s.debug != nil && len(results) > 0 {
		if b, err := json.Marshal(map[string]any{"results": results}); err == nil {
			_, _ = s.debug.Write(append(b, '\n'))
		}
	}

	s.mu.Lock()
	for i := range results {
		transcript := cleanSegment(results[i].Transcript)
		results[i].Transcript = transcript
		if transcript == "" {
			continue
		}
		if results[i].Final {
			s.segments = appendSegment(s.segments, transcript)
			s.lastInterim = ""
			continue
		}
		if s.lastInterim != "" && !isInterimContinuation(s.lastInterim, transcript) {
			s.segments = appendSegment(s.segments, s.lastInterim)
		}
		s.lastInterim = transcript
	}
	s.mu.Unlock()

	if s.onResult == nil {
		return
	}
	for _, result := range results {
		if result.Transcript != "" {
			s.onResult(result)
		}
	}
}

// Transcript returns the merged transcript observed so far, including the
// pending interim hypothesis.
func (s *Stream) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinSegments(collectSegments(s.segments, s.lastInterim))
}

// SendAudio sends one chunk of PCM audio over the active stream.
func (s *Stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closedSend
	recvErr := s.recvErr
	s.mu.Unlock()

	if closed {
		return errors.New("stream already closed for sending")
	}
	if recvErr != nil {
		return fmt.Errorf("stream receive loop failed: %w", recvErr)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.SendMsg(encodeAudioRequest(chunk))
}

func (s *Stream) closeSend() {
	s.mu.Lock()
	already := s.closedSend
	s.closedSend = true
	s.mu.Unlock()
	if already {
		return
	}

	s.sendMu.Lock()
	_ = s.stream.CloseSend()
	s.sendMu.Unlock()
}

// Done is closed once the server side of the stream has ended.
func (s *Stream) Done() <-chan struct{} { return s.recvDone }

// Err returns the receive error, if the stream failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// CloseAndCollect half-closes the stream, waits for trailing results, and returns
// the merged transcript segments with the time spent waiting.
func (s *Stream) CloseAndCollect(ctx context.Context) ([]string, time.Duration, error) {
	closedAt := time.Now()
	s.closeSend()

	select {
	case <-s.recvDone:
	case <-ctx.Done():
		_ = s.Cancel()
		return nil, 0, ctx.Err()
	}
	latency := time.Since(closedAt)
	defer func() { _ = s.Cancel() }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvErr != nil {
		return nil, latency, s.recvErr
	}
	return collectSegments(s.segments, s.lastInterim), latency, nil
}

// Cancel aborts stream processing and closes the underlying connection.
func (s *Stream) Cancel() error {
	s.closeSend()
	s.cancel()
	return s.conn.Close()
}
