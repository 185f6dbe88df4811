package models

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Details is the opaque pipeline configuration stored with a status.
type Details map[string]any

// Hooks returns the configured hook targets. ok is false when the
// configuration has no hooks key at all.
func (d Details) Hooks() (hooks []Hook, ok bool) {
	raw, ok := d["hooks"]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case []Hook:
		return v, true
	case []string:
		for _, h := range v {
			hooks = append(hooks, Hook(h))
		}
	case []any:
		for _, h := range v {
			if s, isString := h.(string); isString {
				hooks = append(hooks, Hook(s))
			}
		}
	}
	return hooks, true
}

// SourceSpec describes where a pipeline definition was read from.
type SourceSpec map[string]any

// ValidationError is a (code, message) pair. It is persisted as a
// two-element JSON array.
type ValidationError struct {
	Code    string
	Message string
}

func (v ValidationError) String() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

func (v ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{v.Code, v.Message})
}

func (v *ValidationError) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, "validation error must be a [code, message] pair")
	}
	if len(pair) != 2 {
		return errors.Errorf("validation error must have 2 elements, got %d", len(pair))
	}
	v.Code, v.Message = pair[0], pair[1]
	return nil
}
