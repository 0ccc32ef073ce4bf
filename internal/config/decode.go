package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decode reads b over cfg. YAML files are converted to JSON first so both
// formats go through the same strict decoder: unknown keys and trailing
// documents are errors.
func decode(path string, b []byte, cfg *Config) error {
	if isYAML(path) {
		jb, err := yamlToJSON(b)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		b = jb
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return fmt.Errorf("%s: trailing data after config object", filepath.Base(path))
	default:
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func yamlToJSON(b []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: more than one document")
	}
	doc, err := stringKeys(doc, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// stringKeys rewrites YAML maps so encoding/json accepts them. Non-string
// keys are rejected: every config key is a name.
func stringKeys(v any, at string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			nv, err := stringKeys(item, at+"."+k)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: key %v under %q is not a string", k, strings.TrimPrefix(at, "."))
			}
			nv, err := stringKeys(item, at+"."+ks)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		for i := range x {
			nv, err := stringKeys(x[i], fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	}
	return v, nil
}

// contentHash identifies a parsed config; 0 means "unknown".
func contentHash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
