package mqtt

import (
	"errors"
	"strings"
)

var (
	// ErrTimeout indicates a token did not complete in time.
	ErrTimeout = errors.New("mqtt timeout")
	// ErrBadTopic indicates a topic outside the payload scheme.
	ErrBadTopic = errors.New("bad payload topic")
)

// TopicRoot is the first level of every payload topic.
const TopicRoot = "payload"

// Topic kinds under payload/<id>/.
const (
	KindTelemetry = "telemetry"
	KindText      = "text"
	KindStatus    = "status"
	KindCmd       = "cmd"
	KindReply     = "reply"
	KindConsole   = "console"
	KindMeta      = "meta"
)

// Topics builds the topics of one payload.
type Topics struct {
	ID string
}

// TopicsFor creates Topics for a payload ID.
func TopicsFor(id string) Topics {
	return Topics{ID: id}
}

// Topic builds payload/<id>/<kind>.
func (t Topics) Topic(kind string) string {
	return TopicRoot + "/" + t.ID + "/" + kind
}

// Telemetry carries raw packets.
func (t Topics) Telemetry() string { return t.Topic(KindTelemetry) }

// Text carries decoded CSV rows.
func (t Topics) Text() string { return t.Topic(KindText) }

// Status carries periodic status reports.
func (t Topics) Status() string { return t.Topic(KindStatus) }

// Cmd carries command requests to the payload.
func (t Topics) Cmd() string { return t.Topic(KindCmd) }

// Reply carries command replies from the payload.
func (t Topics) Reply() string { return t.Topic(KindReply) }

// Console carries console output of the payload.
func (t Topics) Console() string { return t.Topic(KindConsole) }

// Meta carries the retained payload description.
func (t Topics) Meta() string { return t.Topic(KindMeta) }

// AllMeta matches the meta topics of every payload.
func AllMeta() string {
	return TopicRoot + "/+/" + KindMeta
}

// AllOf matches a topic kind of every payload.
func AllOf(kind string) string {
	return TopicRoot + "/+/" + kind
}

// ParseTopic splits payload/<id>/<kind>.
func ParseTopic(topic string) (id, kind string, err error) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[0] != TopicRoot || items[1] == "" {
		return "", "", ErrBadTopic
	}
	return items[1], items[2], nil
}
