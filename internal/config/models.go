package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ModelType is the capability class of a model descriptor.
type ModelType string

const (
	ModelText          ModelType = "text"
	ModelTextReasoning ModelType = "text-reasoning"
	ModelImage         ModelType = "image"
)

// Valid reports whether t is one of the known model types.
func (t ModelType) Valid() bool {
	switch t {
	case ModelText, ModelTextReasoning, ModelImage:
		return true
	default:
		return false
	}
}

// Model describes one selectable model.
//
// Either Path names a model directly or RepoID+Filename locate a GGUF file on the
// Hugging Face hub.
type Model struct {
	Name     string    `json:"model_name"`
	ID       string    `json:"model_id"`
	Type     ModelType `json:"model_type"`
	Path     string    `json:"model_path,omitempty"`
	RepoID   string    `json:"repo_id,omitempty"`
	Filename string    `json:"filename,omitempty"`
}

var ggufQuantPattern = regexp.MustCompile(`(?i)(i?q\d+(?:_[a-z0-9]+)*|bf16|f16|f32)`)

// OllamaRef returns the reference used to address this model on an Ollama server.
func (m Model) OllamaRef() string {
	if path := strings.TrimSpace(m.Path); path != "" {
		return path
	}
	if m.RepoID != "" {
		ref := "hf.co/" + m.RepoID
		name := strings.TrimSuffix(strings.ToLower(m.Filename), ".gguf")
		if matches := ggufQuantPattern.FindAllString(name, -1); len(matches) > 0 {
			ref += ":" + strings.ToUpper(matches[len(matches)-1])
		}
		return ref
	}
	return m.ID
}

func (m Model) validateCustom() error {
	required := []struct{ field, value string }{
		{"model_name", m.Name},
		{"model_id", m.ID},
		{"model_type", string(m.Type)},
		{"repo_id", m.RepoID},
		{"filename", m.Filename},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "is required")
		}
	}
	if !m.Type.Valid() {
		return invalid("model_type", "%q must be one of: text, text-reasoning, image", m.Type)
	}
	return nil
}

// BuiltinModels returns the models shipped with parley.
func BuiltinModels() []Model {
	return []Model{
		{Name: "Llama 3.2 1B Instruct", ID: "llama3.2:1b", Type: ModelText},
		{Name: "Llama 3.2 3B Instruct", ID: "llama3.2:3b", Type: ModelText},
		{Name: "Qwen2.5 0.5B Instruct", ID: "Qwen/Qwen2.5-0.5B-Instruct-GGUF", Type: ModelText,
			RepoID: "Qwen/Qwen2.5-0.5B-Instruct-GGUF", Filename: "qwen2.5-0.5b-instruct-q4_k_m.gguf"},
		{Name: "Moondream2", ID: "moondream:1.8b", Type: ModelImage},
		{Name: "LLaVA Phi-3 Mini", ID: "llava-phi3:3.8b", Type: ModelImage},
		{Name: "DeepSeek R1 Distill Qwen 1.5B", ID: "deepseek-r1:1.5b", Type: ModelTextReasoning},
	}
}

// Catalog is the effective model list: built-ins followed by user-defined entries
// persisted in a JSON array file.
type Catalog struct {
	path     string
	builtins []Model

	mu     sync.Mutex
	custom []Model
}

// LoadCatalog reads custom models from path.
//
// A missing file yields no custom models. A malformed file yields no custom models
// and a *ConfigError; the returned catalog is always usable.
func LoadCatalog(path string) (*Catalog, error) {
	catalog := &Catalog{path: path, builtins: BuiltinModels()}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return catalog, nil
		}
		return catalog, &ConfigError{Path: path, Err: err}
	}

	normalized, err := normalizeJSONC(string(content))
	if err != nil {
		return catalog, &ConfigError{Path: path, Err: err}
	}
	if strings.TrimSpace(normalized) == "" {
		return catalog, nil
	}

	var custom []Model
	if err := json.Unmarshal([]byte(normalized), &custom); err != nil {
		return catalog, &ConfigError{Path: path, Err: wrapJSONDecodeError(normalized, err)}
	}
	catalog.custom = custom
	return catalog, nil
}

// Path returns the custom model file location.
func (c *Catalog) Path() string { return c.path }

// Models returns built-ins followed by custom entries.
func (c *Catalog) Models() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelsLocked()
}

func (c *Catalog) modelsLocked() []Model {
	out := make([]Model, 0, len(c.builtins)+len(c.custom))
	out = append(out, c.builtins...)
	return append(out, c.custom...)
}

// Custom returns only the user-defined entries, indexed as Update/Remove expect.
func (c *Catalog) Custom() []Model {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Model(nil), c.custom...)
}

// ByType returns the effective models of one type, in catalog order.
func (c *Catalog) ByType(t ModelType) []Model {
	var out []Model
	for _, m := range c.Models() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Find returns the first model with id. Ids are not unique across built-in and custom
// entries; built-ins shadow custom models with the same id.
func (c *Catalog) Find(id string) (Model, bool) {
	for _, m := range c.Models() {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Resolve maps a model id to its Ollama reference, passing unknown ids through.
func (c *Catalog) Resolve(id string) string {
	if m, ok := c.Find(id); ok {
		return m.OllamaRef()
	}
	return id
}

// Add appends a custom model, persists the list, and returns the refreshed catalog.
func (c *Catalog) Add(m Model) ([]Model, error) {
	if err := m.validateCustom(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := append(append([]Model(nil), c.custom...), m)
	return c.commitLocked(next)
}

// Update replaces the custom model at index.
func (c *Catalog) Update(index int, m Model) ([]Model, error) {
	if err := m.validateCustom(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.custom) {
		return nil, fmt.Errorf("custom model index %d out of range", index)
	}
	next := append([]Model(nil), c.custom...)
	next[index] = m
	return c.commitLocked(next)
}

// Remove deletes the custom model at index.
func (c *Catalog) Remove(index int) ([]Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.custom) {
		return nil, fmt.Errorf("custom model index %d out of range", index)
	}
	next := append(append([]Model(nil), c.custom[:index]...), c.custom[index+1:]...)
	return c.commitLocked(next)
}

func (c *Catalog) commitLocked(next []Model) ([]Model, error) {
	if next == nil {
		next = []Model{}
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode custom models: %w", err)
	}
	if err := writeFileAtomic(c.path, append(data, '\n')); err != nil {
		return nil, fmt.Errorf("save custom models to %s: %w", filepath.Base(c.path), err)
	}
	c.custom = next
	return c.modelsLocked(), nil
}

// ModelWarnings reports selected model ids that are missing from the catalog or
// selected for the wrong role.
func ModelWarnings(s Settings, catalog *Catalog) []Warning {
	checks := []struct {
		key  string
		id   string
		want ModelType
	}{
		{"text_model", s.TextModel, ModelText},
		{"multimodal_model", s.MultimodalModel, ModelImage},
		{"text_reasoning_model", s.TextReasoningModel, ModelTextReasoning},
	}

	var warnings []Warning
	for _, check := range checks {
		m, ok := catalog.Find(check.id)
		switch {
		case !ok:
			warnings = append(warnings, Warning{Message: fmt.Sprintf("%s %q is not in the model catalog; it will be passed to ollama as-is", check.key, check.id)})
		case m.Type != check.want:
			warnings = append(warnings, Warning{Message: fmt.Sprintf("%s %q is a %s model, expected %s", check.key, check.id, m.Type, check.want)})
		}
	}
	return warnings
}
