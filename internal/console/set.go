package console

import (
	"slices"
	"strconv"
	"strings"

	"github.com/rbright/parley/internal/config"
)

type setter func(s *config.Settings, value string) error

var settingKeys = map[string]setter{
	"shortcut":             setString(func(s *config.Settings) *string { return &s.Shortcut }),
	"color":                setString(func(s *config.Settings) *string { return &s.Color }),
	"transparency":         setInt("transparency", func(s *config.Settings) *int { return &s.Transparency }),
	"text_model":           setString(func(s *config.Settings) *string { return &s.TextModel }),
	"multimodal_model":     setString(func(s *config.Settings) *string { return &s.MultimodalModel }),
	"text_reasoning_model": setString(func(s *config.Settings) *string { return &s.TextReasoningModel }),
	"hey_llama_chat":       setBool("hey_llama_chat", func(s *config.Settings) *bool { return &s.WakeWordChat }),
	"hey_llama_mic":        setBool("hey_llama_mic", func(s *config.Settings) *bool { return &s.WakeWordMic }),
	"clipboard_cmd":        setString(func(s *config.Settings) *string { return &s.ClipboardCmd }),

	"generation.context_len": setInt("generation.context_len", func(s *config.Settings) *int { return &s.Generation.ContextLen }),
	"generation.temperature": setFloat("generation.temperature", func(s *config.Settings) *float64 { return &s.Generation.Temperature }),
	"generation.top_p":       setFloat("generation.top_p", func(s *config.Settings) *float64 { return &s.Generation.TopP }),
	"generation.top_k":       setInt("generation.top_k", func(s *config.Settings) *int { return &s.Generation.TopK }),

	"rag.embed_model_name":     setString(func(s *config.Settings) *string { return &s.RAG.EmbedModel }),
	"rag.chunk_size":           setInt("rag.chunk_size", func(s *config.Settings) *int { return &s.RAG.ChunkSize }),
	"rag.chunk_overlap":        setInt("rag.chunk_overlap", func(s *config.Settings) *int { return &s.RAG.ChunkOverlap }),
	"rag.max_retrieval_top_k":  setInt("rag.max_retrieval_top_k", func(s *config.Settings) *int { return &s.RAG.MaxRetrievalTopK }),
	"rag.similarity_threshold": setFloat("rag.similarity_threshold", func(s *config.Settings) *float64 { return &s.RAG.SimilarityThreshold }),

	"ollama.host": setString(func(s *config.Settings) *string { return &s.Ollama.Host }),
}

// settingNames lists /set keys in display order.
func settingNames() []string {
	names := make([]string, 0, len(settingKeys))
	for name := range settingKeys {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// applySetting parses value for key into s. Range checks are left to config.Validate.
func applySetting(s *config.Settings, key, value string) error {
	set, ok := settingKeys[strings.ToLower(key)]
	if !ok {
		return &config.ValidationError{Field: key, Message: "unknown setting (keys: " + strings.Join(settingNames(), ", ") + ")"}
	}
	return set(s, value)
}

func setString(field func(*config.Settings) *string) setter {
	return func(s *config.Settings, value string) error {
		*field(s) = value
		return nil
	}
}

func setInt(name string, field func(*config.Settings) *int) setter {
	return func(s *config.Settings, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return &config.ValidationError{Field: name, Message: strconv.Quote(value) + " is not an integer"}
		}
		*field(s) = n
		return nil
	}
}

func setFloat(name string, field func(*config.Settings) *float64) setter {
	return func(s *config.Settings, value string) error {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return &config.ValidationError{Field: name, Message: strconv.Quote(value) + " is not a number"}
		}
		*field(s) = f
		return nil
	}
}

func setBool(name string, field func(*config.Settings) *bool) setter {
	return func(s *config.Settings, value string) error {
		switch strings.ToLower(value) {
		case "on", "yes":
			*field(s) = true
			return nil
		case "off", "no":
			*field(s) = false
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &config.ValidationError{Field: name, Message: strconv.Quote(value) + " is not on/off"}
		}
		*field(s) = b
		return nil
	}
}
