package models

import "strings"

// Hook is a notification target: an http(s) URL or "lua:<script path>".
type Hook string

const luaHookPrefix = "lua:"

func (h Hook) IsLua() bool {
	return strings.HasPrefix(string(h), luaHookPrefix)
}

// ScriptPath returns the script path of a lua hook.
func (h Hook) ScriptPath() string {
	return strings.TrimPrefix(string(h), luaHookPrefix)
}

func (h Hook) IsHTTP() bool {
	s := string(h)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

type HookEvent string

const (
	HookEventQueue    HookEvent = "queue"
	HookEventStart    HookEvent = "start"
	HookEventProgress HookEvent = "progress"
	HookEventFinish   HookEvent = "finish"
)

// Payload is the JSON document delivered to hooks.
type Payload map[string]any
