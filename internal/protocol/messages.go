package protocol

import (
	"encoding/json"

	"structurecraft.ai/internal/diag"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// MaxQueue bounds the outbound queue for this session.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Catalog         DigestRef `json:"catalog"`
	ActivePrompt    string    `json:"active_prompt"`
	Prompts         []string  `json:"prompts"`
	MaxInFlight     int       `json:"max_in_flight"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// BUILD (client -> server). Exactly one of Prompt, ScriptName or Script is
// used, Script first. Script is a document object, or a string holding one
// (fences allowed).
type BuildMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	Prompt          string          `json:"prompt,omitempty"`
	ScriptName      string          `json:"script_name,omitempty"`
	Script          json.RawMessage `json:"script,omitempty"`
	Origin          [3]int          `json:"origin"`
	Rotation        int             `json:"rotation,omitempty"`
}

// BUILD_ACK (server -> client)
type BuildAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id"`
	BuildID         string `json:"build_id"`
}

// BUILD_EVENT (server -> client): one diagnostic, in emission order.
type BuildEventMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	RequestID       string     `json:"request_id"`
	BuildID         string     `json:"build_id"`
	Event           diag.Event `json:"event"`
}

// BUILD_DONE (server -> client)
type BuildDoneMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	RequestID       string     `json:"request_id"`
	BuildID         string     `json:"build_id"`
	Name            string     `json:"name,omitempty"`
	Stats           BuildStats `json:"stats"`
}

type BuildStats struct {
	Layers      int   `json:"layers"`
	Actions     int   `json:"actions"`
	Skipped     int   `json:"skipped"`
	Writes      int64 `json:"writes"`
	Diagnostics int   `json:"diagnostics"`

	// Placed counts planned voxels found holding their block after the run.
	Placed  int `json:"placed"`
	Planned int `json:"planned"`
}

// BUILD_FAIL (server -> client)
type BuildFailMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RequestID       string `json:"request_id"`
	BuildID         string `json:"build_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewBuildFail(requestID, buildID, code, message string) BuildFailMsg {
	return BuildFailMsg{
		Type:            TypeBuildFail,
		ProtocolVersion: Version,
		RequestID:       requestID,
		BuildID:         buildID,
		Code:            code,
		Message:         message,
	}
}
