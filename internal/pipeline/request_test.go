package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/script"
)

func TestRequestFromMessage(t *testing.T) {
	doc := `{"palette":{"S":"stone"},"structure":[{"actions":[{"type":"set","block":"S","at":[0,0,0]}]}]}`
	fenced, _ := json.Marshal("```json\n" + doc + "\n```")

	cases := []struct {
		name    string
		msg     protocol.BuildMsg
		script  bool
		wantErr error
	}{
		{name: "prompt", msg: protocol.BuildMsg{Prompt: "  a hut ", Origin: [3]int{1, 2, 3}}},
		{name: "object", msg: protocol.BuildMsg{Script: json.RawMessage(doc)}, script: true},
		{name: "fenced string", msg: protocol.BuildMsg{Script: fenced}, script: true},
		{name: "null script", msg: protocol.BuildMsg{ScriptName: "hut", Script: json.RawMessage("null")}},
		{name: "schema", msg: protocol.BuildMsg{Script: json.RawMessage(`{"palette":{}}`)}, wantErr: script.ErrSchemaMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := RequestFromMessage(tc.msg, "b1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err=%v want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err=%v", err)
			}
			if req.BuildID != "b1" || (req.Script != nil) != tc.script {
				t.Fatalf("req=%+v", req)
			}
		})
	}

	req, _ := RequestFromMessage(protocol.BuildMsg{Prompt: "  a hut ", Origin: [3]int{1, 2, 3}, Rotation: 1}, "b2")
	if req.Prompt != "a hut" || req.Origin != geom.V(1, 2, 3) || req.Rotation != 1 {
		t.Fatalf("req=%+v", req)
	}
}
