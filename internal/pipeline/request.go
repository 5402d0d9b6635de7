package pipeline

import (
	"encoding/json"
	"strings"

	"structurecraft.ai/internal/geom"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/reply"
	"structurecraft.ai/internal/script"
)

// RequestFromMessage turns a BUILD message into a request. An inline script
// that does not parse is returned as the error.
func RequestFromMessage(bm protocol.BuildMsg, buildID string) (BuildRequest, error) {
	req := BuildRequest{
		BuildID:    buildID,
		Prompt:     strings.TrimSpace(bm.Prompt),
		ScriptName: strings.TrimSpace(bm.ScriptName),
		Origin:     geom.V(bm.Origin[0], bm.Origin[1], bm.Origin[2]),
		Rotation:   bm.Rotation,
	}
	if len(bm.Script) > 0 && string(bm.Script) != "null" {
		sc, err := InlineScript(bm.Script)
		if err != nil {
			return req, err
		}
		req.Script = sc
	}
	return req, nil
}

// InlineScript accepts a document object or a string holding one, the
// latter normalized like a model reply.
func InlineScript(raw json.RawMessage) (*script.Script, error) {
	text := string(raw)
	if strings.HasPrefix(strings.TrimSpace(text), `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		text = reply.Normalize(s)
	}
	return script.Parse(text)
}
