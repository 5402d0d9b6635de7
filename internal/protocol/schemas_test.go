package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	// Round-trip through JSON so the validator sees what a client would.
	asJSON := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	validate(compile("hello.schema.json"), asJSON(protocol.HelloMsg{
		Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "cli", MaxQueue: 16,
	}))

	validate(compile("welcome.schema.json"), asJSON(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "s1",
		Catalog:         protocol.DigestRef{Digest: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", Count: 150},
		ActivePrompt:    "default",
		Prompts:         []string{"default", "cozy_cabin"},
		MaxInFlight:     4,
	}))

	buildSchema := compile("build.schema.json")
	var build any
	_ = json.Unmarshal([]byte(`{
	  "type":"BUILD",
	  "protocol_version":"1.0",
	  "request_id":"r1",
	  "script":{"palette":{"L":"oak_log"},"structure":[{"actions":[{"type":"fill","block":"L","from":[0,0,0],"to":[1,0,1]}]}]},
	  "origin":[10,64,-3],
	  "rotation":90
	}`), &build)
	validate(buildSchema, build)
	validate(buildSchema, asJSON(protocol.BuildMsg{
		Type: protocol.TypeBuild, ProtocolVersion: protocol.Version, RequestID: "r2", Prompt: "a hut",
	}))

	var noSource any
	_ = json.Unmarshal([]byte(`{"type":"BUILD","protocol_version":"1.0","request_id":"r3","origin":[0,0,0]}`), &noSource)
	if err := buildSchema.Validate(noSource); err == nil {
		t.Fatalf("BUILD without a source should not validate")
	}

	validate(compile("build_ack.schema.json"), asJSON(protocol.BuildAckMsg{
		Type: protocol.TypeBuildAck, ProtocolVersion: protocol.Version, RequestID: "r1", BuildID: "b1",
	}))

	validate(compile("build_event.schema.json"), asJSON(protocol.BuildEventMsg{
		Type: protocol.TypeBuildEvent, ProtocolVersion: protocol.Version, RequestID: "r1", BuildID: "b1",
		Event: diag.Event{Kind: diag.KindPaletteFuzzy, Layer: 0, Action: -1, Key: "L", Raw: "oak_lag", Match: "minecraft:oak_log", Score: 1},
	}))

	validate(compile("build_done.schema.json"), asJSON(protocol.BuildDoneMsg{
		Type: protocol.TypeBuildDone, ProtocolVersion: protocol.Version, RequestID: "r1", BuildID: "b1",
		Name: "20260504_130203_hut", Stats: protocol.BuildStats{Layers: 1, Actions: 1, Writes: 4},
	}))

	failSchema := compile("build_fail.schema.json")
	validate(failSchema, asJSON(protocol.NewBuildFail("r1", "", protocol.ErrSchemaMismatch, "build failed: schema mismatch: {}")))
	if err := failSchema.Validate(asJSON(protocol.NewBuildFail("r1", "", "E_WHAT", "x"))); err == nil {
		t.Fatalf("unknown code should not validate")
	}
}
