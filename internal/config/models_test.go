package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func customModel(id string) Model {
	return Model{
		Name:     "Custom " + id,
		ID:       id,
		Type:     ModelText,
		RepoID:   "org/" + id + "-GGUF",
		Filename: id + "-Q5_K_M.gguf",
	}
}

func TestOllamaRef(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		want  string
	}{
		{name: "plain id", model: Model{ID: "llama3.2:1b"}, want: "llama3.2:1b"},
		{name: "explicit path", model: Model{ID: "x", Path: "my-model:latest"}, want: "my-model:latest"},
		{name: "gguf quant", model: Model{ID: "x", RepoID: "Qwen/Qwen2.5-0.5B-Instruct-GGUF", Filename: "qwen2.5-0.5b-instruct-q4_k_m.gguf"}, want: "hf.co/Qwen/Qwen2.5-0.5B-Instruct-GGUF:Q4_K_M"},
		{name: "glob filename", model: Model{ID: "x", RepoID: "org/repo", Filename: "*q8_0.gguf"}, want: "hf.co/org/repo:Q8_0"},
		{name: "float weights", model: Model{ID: "x", RepoID: "org/repo", Filename: "model-f16.gguf"}, want: "hf.co/org/repo:F16"},
		{name: "no quant", model: Model{ID: "x", RepoID: "org/repo", Filename: "model.gguf"}, want: "hf.co/org/repo"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.model.OllamaRef())
		})
	}
}

func TestLoadCatalogMissingFileHasOnlyBuiltins(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "custom_models.json"))
	require.NoError(t, err)
	require.Equal(t, BuiltinModels(), catalog.Models())
	require.Empty(t, catalog.Custom())
}

func TestLoadCatalogMalformedFileIsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_models.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"model_name": `), 0o600))

	catalog, err := LoadCatalog(path)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.NotNil(t, catalog)
	require.Equal(t, BuiltinModels(), catalog.Models())
}

func TestCatalogAddUpdateRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_models.json")
	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	models, err := catalog.Add(customModel("alpha"))
	require.NoError(t, err)
	require.Len(t, models, len(BuiltinModels())+1)
	require.Equal(t, "alpha", models[len(models)-1].ID)

	_, err = catalog.Add(customModel("beta"))
	require.NoError(t, err)

	updated := customModel("gamma")
	updated.Type = ModelImage
	_, err = catalog.Update(0, updated)
	require.NoError(t, err)

	reloaded, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, []Model{updated, customModel("beta")}, reloaded.Custom())
	require.Contains(t, reloaded.ByType(ModelImage), updated)

	models, err = reloaded.Remove(1)
	require.NoError(t, err)
	require.Len(t, models, len(BuiltinModels())+1)

	reloaded, err = LoadCatalog(path)
	require.NoError(t, err)
	require.Equal(t, []Model{updated}, reloaded.Custom())
}

func TestCatalogRejectsIncompleteModels(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "custom_models.json"))
	require.NoError(t, err)

	missingFilename := customModel("alpha")
	missingFilename.Filename = ""
	_, err = catalog.Add(missingFilename)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "filename", validationErr.Field)

	badType := customModel("alpha")
	badType.Type = "audio"
	_, err = catalog.Add(badType)
	require.True(t, errors.As(err, &validationErr))
	require.Equal(t, "model_type", validationErr.Field)

	_, err = catalog.Update(3, customModel("alpha"))
	require.Error(t, err)
	_, err = catalog.Remove(0)
	require.Error(t, err)
	require.Empty(t, catalog.Custom())
}

func TestCatalogFindPrefersBuiltinsOnDuplicateID(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "custom_models.json"))
	require.NoError(t, err)

	shadow := customModel("llama3.2:1b")
	_, err = catalog.Add(shadow)
	require.NoError(t, err)

	found, ok := catalog.Find("llama3.2:1b")
	require.True(t, ok)
	require.Equal(t, "Llama 3.2 1B Instruct", found.Name)
	require.Equal(t, "hf.co/Qwen/Qwen2.5-0.5B-Instruct-GGUF:Q4_K_M", catalog.Resolve("Qwen/Qwen2.5-0.5B-Instruct-GGUF"))
	require.Equal(t, "unknown:tag", catalog.Resolve("unknown:tag"))
}

func TestModelWarnings(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "custom_models.json"))
	require.NoError(t, err)
	require.Empty(t, ModelWarnings(Default(), catalog))

	settings := Default()
	settings.TextModel = "moondream:1.8b"
	settings.MultimodalModel = "missing"
	warnings := ModelWarnings(settings, catalog)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0].Message, "expected text")
	require.Contains(t, warnings[1].Message, "not in the model catalog")
}
