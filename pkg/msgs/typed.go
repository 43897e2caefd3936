package msgs

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// A type ID is laid out as: bit 31 event flag, bits 16-30 group,
// bit 15 reply flag, bits 0-14 message number.
const (
	TypeIDMaskKind  uint32 = 0x80000000
	TypeIDMaskGroup uint32 = 0x7fff0000
	TypeIDMaskID    uint32 = 0x0000ffff
	TypeIDMaskReply uint32 = 0x00008000
)

// Kinds selected by TypeIDMaskKind.
const (
	TypeIDKindCommand uint32 = 0x00000000
	TypeIDKindEvent   uint32 = 0x80000000
)

// Message is a protocol message with a registered type.
type Message interface {
	proto.Message
	TypeID() uint32
}

// ErrUnknownType indicates an envelope of an unregistered type.
type ErrUnknownType struct {
	TypeID uint32
}

// Error implements error.
func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown message type %08x", e.TypeID)
}

// MessageTypes maps type IDs to message constructors.
var MessageTypes = make(map[uint32]func() Message)

// Register adds message constructors to MessageTypes, keyed by the
// TypeID of the message they create.
func Register(ctors ...func() Message) {
	for _, ctor := range ctors {
		id := ctor().TypeID()
		if _, dup := MessageTypes[id]; dup {
			panic(fmt.Sprintf("msgs: type %08x registered twice", id))
		}
		MessageTypes[id] = ctor
	}
}

func init() {
	Register(
		func() Message { return &CommandRequest{} },
		func() Message { return &CommandReply{} },
		func() Message { return &StatusReport{} },
		func() Message { return &ConsoleOutput{} },
	)
}

// Encode marshals msg inside an envelope carrying seq.
func Encode(msg Message, seq uint32) ([]byte, error) {
	body, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&Envelope{TypeId: msg.TypeID(), Sequence: seq, Message: body})
}

// Decode unmarshals an envelope and the message inside. The envelope is
// returned whenever it could be read, so a reply can still quote its
// sequence.
func Decode(data []byte) (Message, *Envelope, error) {
	env := &Envelope{}
	if err := proto.Unmarshal(data, env); err != nil {
		return nil, nil, err
	}
	msg, err := env.Unwrap()
	return msg, env, err
}

// Unwrap decodes the enveloped message.
func (m *Envelope) Unwrap() (Message, error) {
	ctor, ok := MessageTypes[m.TypeId]
	if !ok {
		return nil, &ErrUnknownType{TypeID: m.TypeId}
	}
	msg := ctor()
	if err := proto.Unmarshal(m.Message, msg); err != nil {
		return nil, fmt.Errorf("message %08x: %w", m.TypeId, err)
	}
	return msg, nil
}

// Group gets the group bits of the type ID.
func (m *Envelope) Group() uint32 {
	return m.TypeId & TypeIDMaskGroup
}

// IsCommand reports a command request.
func (m *Envelope) IsCommand() bool {
	return m.TypeId&(TypeIDMaskKind|TypeIDMaskReply) == TypeIDKindCommand
}

// IsReply reports a reply to a command.
func (m *Envelope) IsReply() bool {
	return m.TypeId&TypeIDMaskKind == TypeIDKindCommand && m.TypeId&TypeIDMaskReply != 0
}

// IsEvent reports an unsolicited message from the payload.
func (m *Envelope) IsEvent() bool {
	return m.TypeId&TypeIDMaskKind == TypeIDKindEvent
}

// NewErrorReply creates a failed CommandReply.
func NewErrorReply(err error) *CommandReply {
	return &CommandReply{Error: err.Error()}
}

// Err converts a failed reply to an error.
func (m *CommandReply) Err() error {
	if m.Ok {
		return nil
	}
	return &CommandError{Message: m.Error}
}

// CommandError is the error reported by a failed command.
type CommandError struct {
	Message string
}

// Error implements error.
func (e *CommandError) Error() string {
	return e.Message
}
