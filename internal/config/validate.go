package config

import (
	"math"
	"net/url"
	"regexp"
	"strings"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate enforces settings invariants. It returns a *ValidationError naming the first
// field outside its constraint; values are never clamped.
func Validate(s Settings) error {
	if !hexColorPattern.MatchString(s.Color) {
		return invalid("color", "%q is not a #RRGGBB color", s.Color)
	}
	if s.Transparency < 0 || s.Transparency > 100 {
		return invalid("transparency", "%d is outside 0-100", s.Transparency)
	}

	required := []struct{ field, value string }{
		{"text_model", s.TextModel},
		{"multimodal_model", s.MultimodalModel},
		{"text_reasoning_model", s.TextReasoningModel},
		{"rag.embed_model_name", s.RAG.EmbedModel},
		{"speech.riva_grpc", s.Speech.RivaGRPC},
		{"speech.language_code", s.Speech.LanguageCode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "must not be empty")
		}
	}

	if err := validateGeneration(s.Generation); err != nil {
		return err
	}
	if err := validateRAG(s.RAG); err != nil {
		return err
	}

	host, err := url.Parse(s.Ollama.Host)
	if err != nil || host.Scheme == "" || host.Host == "" {
		return invalid("ollama.host", "%q is not an absolute URL", s.Ollama.Host)
	}

	if s.Speech.MaxListenMS <= 0 {
		return invalid("speech.max_listen_ms", "must be > 0")
	}
	if s.WakeWordChat && len(nonEmpty(s.Speech.WakePhrases)) == 0 {
		return invalid("speech.wake_phrases", "at least one phrase is required when hey_llama_chat is enabled")
	}

	switch strings.ToLower(strings.TrimSpace(s.Indicator.Backend)) {
	case "hypr", "desktop":
	default:
		return invalid("indicator.backend", "must be one of: hypr, desktop")
	}

	if _, err := ParseArgv(s.ClipboardCmd); err != nil {
		return invalid("clipboard_cmd", "%v", err)
	}

	return nil
}

func validateGeneration(g GenerationSettings) error {
	switch {
	case g.ContextLen <= 0:
		return invalid("generation.context_len", "must be > 0")
	case !finite(g.Temperature) || g.Temperature < 0 || g.Temperature > 2:
		return invalid("generation.temperature", "%g is outside [0, 2]", g.Temperature)
	case !finite(g.TopP) || g.TopP <= 0 || g.TopP > 1:
		return invalid("generation.top_p", "%g is outside (0, 1]", g.TopP)
	case g.TopK <= 0:
		return invalid("generation.top_k", "must be > 0")
	}
	return nil
}

func validateRAG(r RAGSettings) error {
	switch {
	case r.ChunkSize <= 0:
		return invalid("rag.chunk_size", "must be > 0")
	case r.ChunkOverlap < 0:
		return invalid("rag.chunk_overlap", "must be >= 0")
	case r.ChunkOverlap >= r.ChunkSize:
		return invalid("rag.chunk_overlap", "must be less than rag.chunk_size (%d)", r.ChunkSize)
	case r.MaxRetrievalTopK <= 0:
		return invalid("rag.max_retrieval_top_k", "must be > 0")
	case !finite(r.SimilarityThreshold) || r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1:
		return invalid("rag.similarity_threshold", "%g is outside [0, 1]", r.SimilarityThreshold)
	}
	return nil
}

// NaN fails every comparison, so range checks alone would let it through.
func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, value)
		}
	}
	return out
}
