package speech

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/rbright/parley/internal/audio"
)

// createDebugFile creates a timestamped artifact under $XDG_STATE_HOME/parley/debug.
func createDebugFile(prefix string, extension string) (*os.File, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return nil, err
	}
	debugDir := filepath.Join(stateDir, "parley", "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}

func (t *Transcriber) closeDebugArtifactsLocked() {
	if t.debugJSON != nil {
		_ = t.debugJSON.Close()
		t.debugJSON = nil
	}
}

// writeDebugAudio dumps captured PCM to a WAV file when debug_audio_dump is on.
func (t *Transcriber) writeDebugAudio(capture captureClient) {
	if !t.settings.DebugAudioDump || t.opts.Monitor {
		return
	}
	pcm := capture.RawPCM()
	if len(pcm) == 0 {
		return
	}

	file, err := createDebugFile("audio", "wav")
	if err != nil {
		t.logger.Warn("unable to create debug audio dump", "error", err)
		return
	}
	defer file.Close()

	if err := writePCM16WAV(file, pcm, audio.SampleRate); err != nil {
		t.logger.Warn("unable to write debug audio dump", "error", err)
		return
	}
	t.logger.Debug("wrote debug audio dump", "path", file.Name(), "bytes", len(pcm))
}

// writePCM16WAV encodes little-endian mono s16 PCM as a WAV stream.
func writePCM16WAV(w io.WriteSeeker, pcm []byte, sampleRate int) error {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}
