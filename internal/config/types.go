// Package config resolves, parses, validates, and persists parley settings and the
// model catalog.
package config

// Settings is the fully materialized user preference document.
//
// Field tags are the on-disk JSON keys; Save always writes every key.
type Settings struct {
	Shortcut           string             `json:"shortcut"`
	Color              string             `json:"color"`
	Transparency       int                `json:"transparency"`
	TextModel          string             `json:"text_model"`
	MultimodalModel    string             `json:"multimodal_model"`
	TextReasoningModel string             `json:"text_reasoning_model"`
	WakeWordChat       bool               `json:"hey_llama_chat"`
	WakeWordMic        bool               `json:"hey_llama_mic"`
	Generation         GenerationSettings `json:"generation"`
	RAG                RAGSettings        `json:"rag"`
	Ollama             OllamaSettings     `json:"ollama"`
	Speech             SpeechSettings     `json:"speech"`
	Indicator          IndicatorSettings  `json:"indicator"`
	ClipboardCmd       string             `json:"clipboard_cmd"`
}

// GenerationSettings are sampling options forwarded with every inference request.
type GenerationSettings struct {
	ContextLen  int     `json:"context_len"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// RAGSettings control document retrieval for text requests with attachments.
type RAGSettings struct {
	EmbedModel          string  `json:"embed_model_name"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	MaxRetrievalTopK    int     `json:"max_retrieval_top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// OllamaSettings locate the local inference server.
type OllamaSettings struct {
	Host string `json:"host"`
}

// SpeechSettings control audio capture and the Riva ASR stream.
type SpeechSettings struct {
	RivaGRPC             string   `json:"riva_grpc"`
	LanguageCode         string   `json:"language_code"`
	Model                string   `json:"model"`
	AutomaticPunctuation bool     `json:"automatic_punctuation"`
	AudioInput           string   `json:"audio_input"`
	AudioFallback        string   `json:"audio_fallback"`
	MaxListenMS          int      `json:"max_listen_ms"`
	WakePhrases          []string `json:"wake_phrases"`
	DebugAudioDump       bool     `json:"debug_audio_dump"`
}

// IndicatorSettings control notifications and audio cues.
type IndicatorSettings struct {
	Enable      bool   `json:"enable"`
	Backend     string `json:"backend"`
	SoundEnable bool   `json:"sound_enable"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := s
	if s.Speech.WakePhrases != nil {
		out.Speech.WakePhrases = append([]string(nil), s.Speech.WakePhrases...)
	}
	return out
}
