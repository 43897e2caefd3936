package msgs

import "encoding/json"

// Meta describes a payload on its retained meta topic.
type Meta struct {
	ID         string   `json:"id"`
	Channels   []string `json:"channels"`
	Kinds      []string `json:"kinds"`
	Header     string   `json:"header"`
	Sinks      []string `json:"sinks"`
	RecordSize int      `json:"record_size"`
	TextMode   bool     `json:"text_mode,omitempty"`
}

// EncodeMeta encodes m for the meta topic.
func EncodeMeta(m *Meta) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMeta decodes a meta topic payload. An empty payload means the
// payload went offline and yields nil.
func DecodeMeta(data []byte) (*Meta, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
