package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes returns the file content as JSON so one strict decoder
// serves both formats. The format is picked by extension.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		return data, "json", nil
	case ".yaml", ".yml":
	default:
		return nil, "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .json)", ext)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	if doc == nil {
		// empty file: all defaults
		return []byte("{}"), "yaml", nil
	}
	doc, err := jsonSafe(doc, "")
	if err != nil {
		return nil, "yaml", err
	}
	j, err := json.Marshal(doc)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// jsonSafe rewrites decoded YAML so it can be JSON-marshaled. Mapping keys
// must be strings; anything else is reported with its path.
func jsonSafe(v any, path string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			out, err := jsonSafe(val, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			x[k] = out
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: mapping key %v is not a string", orRoot(path), k)
			}
			out, err := jsonSafe(val, joinPath(path, ks))
			if err != nil {
				return nil, err
			}
			m[ks] = out
		}
		return m, nil
	case []any:
		for i := range x {
			out, err := jsonSafe(x[i], fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			x[i] = out
		}
		return x, nil
	default:
		return v, nil
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
