package msgs

import (
	"github.com/golang/protobuf/proto"
)

// Envelope wraps an encoded message with its type.
type Envelope struct {
	TypeId   uint32 `protobuf:"varint,1,opt,name=type_id,json=typeId,proto3" json:"type_id,omitempty"`
	Sequence uint32 `protobuf:"varint,2,opt,name=sequence,proto3" json:"sequence,omitempty"`
	Message  []byte `protobuf:"bytes,3,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *Envelope) Reset()         { *m = Envelope{} }
func (m *Envelope) String() string { return proto.CompactTextString(m) }
func (*Envelope) ProtoMessage()    {}

// CommandRequest asks the payload to run an administrative command.
type CommandRequest struct {
	Type       string `protobuf:"bytes,1,opt,name=type,proto3" json:"type,omitempty"`
	FileNumber int32  `protobuf:"varint,2,opt,name=file_number,json=fileNumber,proto3" json:"file_number,omitempty"`
}

func (m *CommandRequest) Reset()         { *m = CommandRequest{} }
func (m *CommandRequest) String() string { return proto.CompactTextString(m) }
func (*CommandRequest) ProtoMessage()    {}

// TypeID implements Message.
func (*CommandRequest) TypeID() uint32 { return CommandRequestTypeID }

// CommandReply carries the outcome of a command and its console output.
type CommandReply struct {
	Ok     bool   `protobuf:"varint,1,opt,name=ok,proto3" json:"ok,omitempty"`
	Error  string `protobuf:"bytes,2,opt,name=error,proto3" json:"error,omitempty"`
	Output []byte `protobuf:"bytes,3,opt,name=output,proto3" json:"output,omitempty"`
}

func (m *CommandReply) Reset()         { *m = CommandReply{} }
func (m *CommandReply) String() string { return proto.CompactTextString(m) }
func (*CommandReply) ProtoMessage()    {}

// TypeID implements Message.
func (*CommandReply) TypeID() uint32 { return CommandReplyTypeID }

// FileInfo describes one flash file.
type FileInfo struct {
	Number int32  `protobuf:"varint,1,opt,name=number,proto3" json:"number,omitempty"`
	Size   uint64 `protobuf:"varint,2,opt,name=size,proto3" json:"size,omitempty"`
	Commit string `protobuf:"bytes,3,opt,name=commit,proto3" json:"commit,omitempty"`
}

func (m *FileInfo) Reset()         { *m = FileInfo{} }
func (m *FileInfo) String() string { return proto.CompactTextString(m) }
func (*FileInfo) ProtoMessage()    {}

// DeviceHealth is the recovery state of a channel or sink.
type DeviceHealth struct {
	Name      string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Kind      string `protobuf:"bytes,2,opt,name=kind,proto3" json:"kind,omitempty"`
	Verified  bool   `protobuf:"varint,3,opt,name=verified,proto3" json:"verified,omitempty"`
	Attempts  int32  `protobuf:"varint,4,opt,name=attempts,proto3" json:"attempts,omitempty"`
	Exhausted bool   `protobuf:"varint,5,opt,name=exhausted,proto3" json:"exhausted,omitempty"`
}

func (m *DeviceHealth) Reset()         { *m = DeviceHealth{} }
func (m *DeviceHealth) String() string { return proto.CompactTextString(m) }
func (*DeviceHealth) ProtoMessage()    {}

// StatusReport is published periodically by the payload.
type StatusReport struct {
	PayloadId  string          `protobuf:"bytes,1,opt,name=payload_id,json=payloadId,proto3" json:"payload_id,omitempty"`
	UptimeMs   uint64          `protobuf:"varint,2,opt,name=uptime_ms,json=uptimeMs,proto3" json:"uptime_ms,omitempty"`
	Address    uint64          `protobuf:"varint,3,opt,name=address,proto3" json:"address,omitempty"`
	Remaining  uint64          `protobuf:"varint,4,opt,name=remaining,proto3" json:"remaining,omitempty"`
	Files      []*FileInfo     `protobuf:"bytes,5,rep,name=files,proto3" json:"files,omitempty"`
	Devices    []*DeviceHealth `protobuf:"bytes,6,rep,name=devices,proto3" json:"devices,omitempty"`
	QueueDepth uint32          `protobuf:"varint,7,opt,name=queue_depth,json=queueDepth,proto3" json:"queue_depth,omitempty"`
	Dropped    uint64          `protobuf:"varint,8,opt,name=dropped,proto3" json:"dropped,omitempty"`
	Indicator  string          `protobuf:"bytes,9,opt,name=indicator,proto3" json:"indicator,omitempty"`
}

func (m *StatusReport) Reset()         { *m = StatusReport{} }
func (m *StatusReport) String() string { return proto.CompactTextString(m) }
func (*StatusReport) ProtoMessage()    {}

// TypeID implements Message.
func (*StatusReport) TypeID() uint32 { return StatusReportTypeID }

// ConsoleOutput relays console lines of the payload.
type ConsoleOutput struct {
	Data []byte `protobuf:"bytes,1,opt,name=data,proto3" json:"data,omitempty"`
}

func (m *ConsoleOutput) Reset()         { *m = ConsoleOutput{} }
func (m *ConsoleOutput) String() string { return proto.CompactTextString(m) }
func (*ConsoleOutput) ProtoMessage()    {}

// TypeID implements Message.
func (*ConsoleOutput) TypeID() uint32 { return ConsoleOutputTypeID }

// TypeID Groups
const (
	GroupCommand uint32 = 0x00000000
	GroupStatus  uint32 = 0x00010000
)

// TypeIDs
const (
	CommandRequestTypeID uint32 = GroupCommand | 0x0001
	CommandReplyTypeID   uint32 = CommandRequestTypeID | TypeIDMaskReply
	StatusReportTypeID   uint32 = TypeIDKindEvent | GroupStatus | 0x0001
	ConsoleOutputTypeID  uint32 = TypeIDKindEvent | GroupStatus | 0x0002
)
