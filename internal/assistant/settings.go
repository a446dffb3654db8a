package assistant

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/hotkey"
	"github.com/rbright/parley/internal/voice"
	"github.com/rbright/parley/internal/wakeword"
)

// ApplySettings validates, persists, and applies s. A *config.ValidationError leaves
// both the file and the live settings untouched.
func (c *Controller) ApplySettings(ctx context.Context, s config.Settings) error {
	var applyErr error
	if err := c.call(ctx, func() { applyErr = c.applySettings(s.Clone()) }); err != nil {
		return err
	}
	return applyErr
}

// ReloadSettings re-reads the settings file after an external edit. A malformed file
// is logged and the live settings are kept.
func (c *Controller) ReloadSettings() {
	c.post(func() {
		loaded, err := c.store.Load()
		if err != nil {
			c.logger.Warn("settings reload failed; keeping current settings", "error", err)
			return
		}
		c.apply(loaded.Settings)
	})
}

func (c *Controller) applySettings(s config.Settings) error {
	if err := config.Validate(s); err != nil {
		return err
	}
	if _, err := hotkey.Parse(s.Shortcut); err != nil {
		return &config.ValidationError{Field: "shortcut", Message: err.Error()}
	}
	if err := c.store.Save(s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	next := s
	if loaded, err := c.store.Load(); err != nil {
		c.logger.Warn("settings reload after save failed", "error", err)
	} else {
		next = loaded.Settings
	}
	c.apply(next)
	return nil
}

// apply swaps in next and reconciles the workers that depend on settings.
func (c *Controller) apply(next config.Settings) {
	prev := c.settings
	c.settings = next.Clone()

	if prev.Shortcut != next.Shortcut {
		c.presenter.OnRestartRequired(fmt.Sprintf("shortcut changed to %s; restart parley to apply", next.Shortcut))
	}
	if prev.Ollama.Host != next.Ollama.Host {
		c.presenter.OnRestartRequired(fmt.Sprintf("ollama host changed to %s; restart parley to apply", next.Ollama.Host))
	}

	speechChanged := !reflect.DeepEqual(prev.Speech, next.Speech) || prev.Indicator != next.Indicator
	if speechChanged && c.newVoice != nil {
		if c.voice != nil {
			c.voice.Stop()
		}
		c.voiceGen++
		c.voice = c.newVoice(c.settings)
	}

	c.reconcileWake(prev, speechChanged)
	c.logger.Info("settings applied",
		"text_model", next.TextModel,
		"wake_word", next.WakeWordChat,
		"wake_mic", next.WakeWordMic,
	)
}

// reconcileWake starts or stops the wake-word listener to match settings. A running
// listener is rebuilt when force is set.
func (c *Controller) reconcileWake(prev config.Settings, force bool) {
	want := c.settings.WakeWordChat && c.newWake != nil
	rebuild := force || !reflect.DeepEqual(prev.Speech.WakePhrases, c.settings.Speech.WakePhrases)

	if c.wake != nil && (!want || rebuild) {
		old := c.wake
		c.wake = nil
		c.wakeGen++
		go old.Stop()
		c.logger.Info("wake word listener stopped")
	}
	if !want || c.wake != nil {
		return
	}

	c.wakeGen++
	gen := c.wakeGen
	listener, err := c.newWake(c.settings, func(a wakeword.Activation) {
		c.post(func() { c.onWake(gen, a) })
	})
	if err != nil {
		c.logger.Error("wake word listener unavailable", "error", err)
		return
	}
	if err := listener.Start(c.ctx); err != nil {
		c.logger.Error("wake word listener start failed", "error", err)
		return
	}
	c.wake = listener
	c.logger.Info("wake word listener started", "phrases", c.settings.Speech.WakePhrases)
}

func (c *Controller) onWake(gen uint64, a wakeword.Activation) {
	if gen != c.wakeGen {
		return
	}
	c.logger.Info("wake word activated", "trigger", a.Trigger, "phrase", a.Phrase)
	c.presenter.OnWakeWord(a.Trigger)
	c.presenter.OnShow()
	if c.settings.WakeWordMic {
		c.startVoice()
	}
}

// ToggleVoice starts voice input, or stops an active capture so its speech is
// finalized.
func (c *Controller) ToggleVoice() {
	c.post(func() {
		if c.voice != nil && c.voice.State() == fsm.StateListening {
			c.voice.Stop()
			return
		}
		c.startVoice()
	})
}

// StopVoice ends an active capture early. It is a no-op when idle.
func (c *Controller) StopVoice() {
	c.post(func() {
		if c.voice != nil {
			c.voice.Stop()
		}
	})
}

func (c *Controller) startVoice() {
	if c.voice == nil {
		c.presenter.OnSpeechError("voice input is unavailable")
		return
	}
	if c.voice.State() == fsm.StateListening {
		return
	}

	c.voiceGen++
	gen := c.voiceGen
	err := c.voice.Start(c.ctx, voice.SinkFuncs{
		OnRecognized: func(text string) { c.post(func() { c.onSpeechResult(gen, text) }) },
		OnFailed:     func(message string) { c.post(func() { c.onSpeechError(gen, message) }) },
	})
	if err != nil {
		c.presenter.OnSpeechError(err.Error())
	}
}

func (c *Controller) onSpeechResult(gen uint64, text string) {
	if gen != c.voiceGen {
		return
	}
	c.draft = joinInput(c.draft, text)
	c.presenter.OnSpeechResult(c.draft)
}

func (c *Controller) onSpeechError(gen uint64, message string) {
	if gen != c.voiceGen {
		return
	}
	c.logger.Warn("voice input failed", "message", message)
	c.presenter.OnSpeechError(message)
}
