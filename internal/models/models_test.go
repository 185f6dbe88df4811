package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorJSON(t *testing.T) {
	in := []ValidationError{{Code: "Invalid Pipeline", Message: "no steps"}}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `[["Invalid Pipeline","no steps"]]`, string(data))

	var out []ValidationError
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "Invalid Pipeline: no steps", out[0].String())
}

func TestValidationErrorRejectsBadShape(t *testing.T) {
	var v ValidationError
	assert.Error(t, json.Unmarshal([]byte(`["only-code"]`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"code":"x"}`), &v))
}

func TestDetailsHooks(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		want    []Hook
		wantOK  bool
	}{
		{name: "absent", details: Details{}, wantOK: false},
		{name: "null", details: Details{"hooks": nil}, wantOK: false},
		{name: "empty", details: Details{"hooks": []any{}}, wantOK: true},
		{
			name:    "decoded json",
			details: Details{"hooks": []any{"http://a", 3, "lua:b.lua"}},
			want:    []Hook{"http://a", "lua:b.lua"},
			wantOK:  true,
		},
		{
			name:    "strings",
			details: Details{"hooks": []string{"https://c"}},
			want:    []Hook{"https://c"},
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.details.Hooks()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHookKinds(t *testing.T) {
	assert.True(t, Hook("https://example.com/hook").IsHTTP())
	assert.False(t, Hook("https://example.com/hook").IsLua())
	assert.True(t, Hook("lua:hooks/notify.lua").IsLua())
	assert.Equal(t, "hooks/notify.lua", Hook("lua:hooks/notify.lua").ScriptPath())
	assert.False(t, Hook("ftp://nope").IsHTTP())
}

func TestStateActive(t *testing.T) {
	assert.True(t, StateQueued.Active())
	assert.True(t, StateRunning.Active())
	assert.False(t, StateSucceeded.Active())
	assert.False(t, StateInit.Active())
}
