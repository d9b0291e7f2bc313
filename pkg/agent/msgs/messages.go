package msgs

import (
	"github.com/golang/protobuf/proto"

	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// CommandOK is the generic reply indicating success for commands.
type CommandOK struct {
}

// NewCommandOK creates a CommandOK.
func NewCommandOK() *CommandOK {
	return &CommandOK{}
}

// NewMessage implements Message.
func (m *CommandOK) NewMessage() fx.Message { return &CommandOK{} }

// TypeID implements SerializableMessage.
func (m *CommandOK) TypeID() uint32 { return CommandOKTypeID }

// Serializable implements SerializableMessage.
func (m *CommandOK) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *CommandOK) ProtoMessage() {}

// Reset implements proto.Message.
func (m *CommandOK) Reset() { *m = CommandOK{} }

// String implements proto.Message.
func (m *CommandOK) String() string { return proto.CompactTextString(m) }

// CommandErr is the generic message representing command error.
type CommandErr struct {
	Message string `protobuf:"bytes,1,opt,name=message,proto3" json:"message,omitempty"`
}

// NewCommandErr creates a CommandErr from an error.
func NewCommandErr(err error) *CommandErr {
	return NewCommandErrFromMsg(err.Error())
}

// NewCommandErrFromMsg creates a CommandErr.
func NewCommandErrFromMsg(message string) *CommandErr {
	return &CommandErr{Message: message}
}

// NewMessage implements Message.
func (m *CommandErr) NewMessage() fx.Message { return &CommandErr{} }

// TypeID implements SerializableMessage.
func (m *CommandErr) TypeID() uint32 { return CommandErrTypeID }

// Serializable implements SerializableMessage.
func (m *CommandErr) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *CommandErr) ProtoMessage() {}

// Reset implements proto.Message.
func (m *CommandErr) Reset() { *m = CommandErr{} }

// String implements proto.Message.
func (m *CommandErr) String() string { return proto.CompactTextString(m) }

// Error implements error.
func (m *CommandErr) Error() string { return m.Message }

// AgentInfoQuery asks a directly connected agent to identify itself.
type AgentInfoQuery struct {
}

// NewMessage implements Message.
func (m *AgentInfoQuery) NewMessage() fx.Message { return &AgentInfoQuery{} }

// TypeID implements SerializableMessage.
func (m *AgentInfoQuery) TypeID() uint32 { return AgentInfoQueryTypeID }

// Serializable implements SerializableMessage.
func (m *AgentInfoQuery) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *AgentInfoQuery) ProtoMessage() {}

// Reset implements proto.Message.
func (m *AgentInfoQuery) Reset() { *m = AgentInfoQuery{} }

// String implements proto.Message.
func (m *AgentInfoQuery) String() string { return proto.CompactTextString(m) }

// AgentInfoReply is the response for AgentInfoQuery.
type AgentInfoReply struct {
	Board       string   `protobuf:"bytes,1,opt,name=board,proto3" json:"board,omitempty"`
	Id          string   `protobuf:"bytes,2,opt,name=id,proto3" json:"id,omitempty"`
	Description string   `protobuf:"bytes,3,opt,name=description,proto3" json:"description,omitempty"`
	Topologies  []string `protobuf:"bytes,4,rep,name=topologies,proto3" json:"topologies,omitempty"`
}

// NewMessage implements Message.
func (m *AgentInfoReply) NewMessage() fx.Message { return &AgentInfoReply{} }

// TypeID implements SerializableMessage.
func (m *AgentInfoReply) TypeID() uint32 { return AgentInfoReplyTypeID }

// Serializable implements SerializableMessage.
func (m *AgentInfoReply) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *AgentInfoReply) ProtoMessage() {}

// Reset implements proto.Message.
func (m *AgentInfoReply) Reset() { *m = AgentInfoReply{} }

// String implements proto.Message.
func (m *AgentInfoReply) String() string { return proto.CompactTextString(m) }

// TypeID Groups
const (
	GroupCommand uint32 = 0x00000000
	GroupAgent   uint32 = 0x00010000
	GroupBringUp uint32 = 0x00020000
	GroupCustom  uint32 = 0x7f000000 // base group id for custom messages.
)

// TypeIDs
const (
	CommandOKTypeID      uint32 = GroupCommand | TypeIDMaskReply | 0x0000
	CommandErrTypeID     uint32 = GroupCommand | TypeIDMaskReply | 0x0001
	AgentInfoQueryTypeID uint32 = GroupAgent | 0x0000
	AgentInfoReplyTypeID uint32 = AgentInfoQueryTypeID | TypeIDMaskReply
)

func init() {
	MessageTypes[CommandOKTypeID] = (*CommandOK)(nil)
	MessageTypes[CommandErrTypeID] = (*CommandErr)(nil)
	MessageTypes[AgentInfoQueryTypeID] = (*AgentInfoQuery)(nil)
	MessageTypes[AgentInfoReplyTypeID] = (*AgentInfoReply)(nil)
}
