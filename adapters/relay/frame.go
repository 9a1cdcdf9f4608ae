package relay

import (
	"encoding/json"
	"fmt"

	"github.com/layer-3/onerecurr/core"
	"github.com/tidwall/gjson"
)

// Parse extracts the fields the client cares about from an inbound frame.
// It understands plain JSON-RPC objects, typed messages ({"type":...}) and the
// compact array form {"res":[id, method, params, ts]} / {"err":[id, code, msg]}.
func Parse(data []byte) (core.RelayFrame, error) {
	if !gjson.ValidBytes(data) {
		return core.RelayFrame{}, fmt.Errorf("invalid relay frame: %.64q", data)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return core.RelayFrame{}, fmt.Errorf("relay frame is not an object")
	}

	frame := core.RelayFrame{
		Raw:       json.RawMessage(append([]byte(nil), data...)),
		Type:      doc.Get("type").String(),
		Method:    first(doc, "method", "res.1", "err.1"),
		ChannelID: first(doc, "result.channelId", "result.channel_id", "channelId", "params.channelId", "res.2.channelId", "res.2.0.channel_id"),
		Error:     first(doc, "error.message", "error", "err.2"),
	}
	for _, path := range []string{"id", "res.0", "err.0"} {
		if v := doc.Get(path); v.Exists() {
			frame.ID = v.Int()
			break
		}
	}
	return frame, nil
}

func first(doc gjson.Result, paths ...string) string {
	for _, path := range paths {
		v := doc.Get(path)
		if v.Exists() && v.Type != gjson.Null && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
