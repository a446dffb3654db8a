package config

// DefaultLaunchShortcut is the combo used when none is configured or the configured
// one does not parse.
const DefaultLaunchShortcut = "<cmd>+<shift>+<space>"

// Default returns the canonical settings used when no file is present.
func Default() Settings {
	return Settings{
		Shortcut:           DefaultLaunchShortcut,
		Color:              "#1E1E1E",
		Transparency:       90,
		TextModel:          "llama3.2:1b",
		MultimodalModel:    "moondream:1.8b",
		TextReasoningModel: "deepseek-r1:1.5b",
		WakeWordChat:       false,
		WakeWordMic:        false,
		Generation: GenerationSettings{
			ContextLen:  2048,
			Temperature: 0.8,
			TopP:        0.95,
			TopK:        40,
		},
		RAG: RAGSettings{
			EmbedModel:          "nomic-embed-text",
			ChunkSize:           256,
			ChunkOverlap:        128,
			MaxRetrievalTopK:    3,
			SimilarityThreshold: 0.5,
		},
		Ollama: OllamaSettings{Host: "http://127.0.0.1:11434"},
		Speech: SpeechSettings{
			RivaGRPC:             "127.0.0.1:50051",
			LanguageCode:         "en-US",
			AutomaticPunctuation: true,
			AudioInput:           "default",
			AudioFallback:        "default",
			MaxListenMS:          15000,
			WakePhrases:          []string{"hey llama"},
		},
		Indicator: IndicatorSettings{
			Enable:      true,
			Backend:     "desktop",
			SoundEnable: true,
		},
	}
}
