package msgs

import (
	"github.com/golang/protobuf/proto"

	fx "github.com/robotalks/jesd204.go/pkg/framework"
)

// Bring-up session states reported in BringUpStatus.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateDeferred = "deferred"
	StateDone     = "done"
	StateFailed   = "failed"
	StateStopped  = "stopped"
)

// BringUpStart starts the bring-up of a topology, or all topologies
// when Topology is empty.
type BringUpStart struct {
	Topology string `protobuf:"bytes,1,opt,name=topology,proto3" json:"topology,omitempty"`
}

// NewMessage implements Message.
func (m *BringUpStart) NewMessage() fx.Message { return &BringUpStart{} }

// TypeID implements SerializableMessage.
func (m *BringUpStart) TypeID() uint32 { return BringUpStartTypeID }

// Serializable implements SerializableMessage.
func (m *BringUpStart) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *BringUpStart) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BringUpStart) Reset() { *m = BringUpStart{} }

// String implements proto.Message.
func (m *BringUpStart) String() string { return proto.CompactTextString(m) }

// BringUpStop tears down a topology, or all topologies when Topology is empty.
type BringUpStop struct {
	Topology string `protobuf:"bytes,1,opt,name=topology,proto3" json:"topology,omitempty"`
}

// NewMessage implements Message.
func (m *BringUpStop) NewMessage() fx.Message { return &BringUpStop{} }

// TypeID implements SerializableMessage.
func (m *BringUpStop) TypeID() uint32 { return BringUpStopTypeID }

// Serializable implements SerializableMessage.
func (m *BringUpStop) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *BringUpStop) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BringUpStop) Reset() { *m = BringUpStop{} }

// String implements proto.Message.
func (m *BringUpStop) String() string { return proto.CompactTextString(m) }

// BringUpStatusQuery queries the status of a topology, or all
// topologies when Topology is empty.
type BringUpStatusQuery struct {
	Topology string `protobuf:"bytes,1,opt,name=topology,proto3" json:"topology,omitempty"`
}

// NewMessage implements Message.
func (m *BringUpStatusQuery) NewMessage() fx.Message { return &BringUpStatusQuery{} }

// TypeID implements SerializableMessage.
func (m *BringUpStatusQuery) TypeID() uint32 { return BringUpStatusQueryTypeID }

// Serializable implements SerializableMessage.
func (m *BringUpStatusQuery) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *BringUpStatusQuery) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BringUpStatusQuery) Reset() { *m = BringUpStatusQuery{} }

// String implements proto.Message.
func (m *BringUpStatusQuery) String() string { return proto.CompactTextString(m) }

// BringUpStatusReply is the response for BringUpStatusQuery.
type BringUpStatusReply struct {
	Statuses []*BringUpStatus `protobuf:"bytes,1,rep,name=statuses,proto3" json:"statuses,omitempty"`
}

// NewMessage implements Message.
func (m *BringUpStatusReply) NewMessage() fx.Message { return &BringUpStatusReply{} }

// TypeID implements SerializableMessage.
func (m *BringUpStatusReply) TypeID() uint32 { return BringUpStatusReplyTypeID }

// Serializable implements SerializableMessage.
func (m *BringUpStatusReply) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *BringUpStatusReply) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BringUpStatusReply) Reset() { *m = BringUpStatusReply{} }

// String implements proto.Message.
func (m *BringUpStatusReply) String() string { return proto.CompactTextString(m) }

// BringUpStatus is an Event message reflecting the bring-up of a topology.
type BringUpStatus struct {
	Board    string         `protobuf:"bytes,1,opt,name=board,proto3" json:"board,omitempty"`
	Topology string         `protobuf:"bytes,2,opt,name=topology,proto3" json:"topology,omitempty"`
	Session  string         `protobuf:"bytes,3,opt,name=session,proto3" json:"session,omitempty"`
	State    string         `protobuf:"bytes,4,opt,name=state,proto3" json:"state,omitempty"`
	Stage    string         `protobuf:"bytes,5,opt,name=stage,proto3" json:"stage,omitempty"`
	Passes   uint32         `protobuf:"varint,6,opt,name=passes,proto3" json:"passes,omitempty"`
	Pending  []*PendingUnit `protobuf:"bytes,7,rep,name=pending,proto3" json:"pending,omitempty"`
	Error    string         `protobuf:"bytes,8,opt,name=error,proto3" json:"error,omitempty"`
	Links    []*LinkStatus  `protobuf:"bytes,9,rep,name=links,proto3" json:"links,omitempty"`
	Sysrefs  uint32         `protobuf:"varint,10,opt,name=sysrefs,proto3" json:"sysrefs,omitempty"`
}

// NewMessage implements Message.
func (m *BringUpStatus) NewMessage() fx.Message { return &BringUpStatus{} }

// TypeID implements SerializableMessage.
func (m *BringUpStatus) TypeID() uint32 { return BringUpStatusEventTypeID }

// Serializable implements SerializableMessage.
func (m *BringUpStatus) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *BringUpStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BringUpStatus) Reset() { *m = BringUpStatus{} }

// String implements proto.Message.
func (m *BringUpStatus) String() string { return proto.CompactTextString(m) }

// PendingUnit is a device, or a device and link, the bring-up waits for.
type PendingUnit struct {
	Device string `protobuf:"bytes,1,opt,name=device,proto3" json:"device,omitempty"`
	LinkId int32  `protobuf:"varint,2,opt,name=link_id,json=linkId,proto3" json:"link_id"`
}

// LinkStatus reports one link of a topology.
type LinkStatus struct {
	Id           uint32 `protobuf:"varint,1,opt,name=id,proto3" json:"id"`
	Transmit     bool   `protobuf:"varint,2,opt,name=transmit,proto3" json:"transmit,omitempty"`
	Subclass     uint32 `protobuf:"varint,3,opt,name=subclass,proto3" json:"subclass"`
	Lanes        uint32 `protobuf:"varint,4,opt,name=lanes,proto3" json:"lanes,omitempty"`
	LaneRateKhz  uint64 `protobuf:"varint,5,opt,name=lane_rate_khz,json=laneRateKhz,proto3" json:"lane_rate_khz,omitempty"`
	Frozen       bool   `protobuf:"varint,6,opt,name=frozen,proto3" json:"frozen,omitempty"`
	SysrefIssued uint32 `protobuf:"varint,7,opt,name=sysref_issued,json=sysrefIssued,proto3" json:"sysref_issued,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *PendingUnit) ProtoMessage() {}

// Reset implements proto.Message.
func (m *PendingUnit) Reset() { *m = PendingUnit{} }

// String implements proto.Message.
func (m *PendingUnit) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (m *LinkStatus) ProtoMessage() {}

// Reset implements proto.Message.
func (m *LinkStatus) Reset() { *m = LinkStatus{} }

// String implements proto.Message.
func (m *LinkStatus) String() string { return proto.CompactTextString(m) }

// TypeIDs
const (
	BringUpStatusEventTypeID uint32 = GroupBringUp | TypeIDKindEvent | 0x0000
	BringUpStatusQueryTypeID uint32 = GroupBringUp | 0x0000
	BringUpStatusReplyTypeID uint32 = BringUpStatusQueryTypeID | TypeIDMaskReply
	BringUpStartTypeID       uint32 = GroupBringUp | 0x0001
	BringUpStopTypeID        uint32 = GroupBringUp | 0x0002
)

func init() {
	MessageTypes[BringUpStatusEventTypeID] = (*BringUpStatus)(nil)
	MessageTypes[BringUpStatusQueryTypeID] = (*BringUpStatusQuery)(nil)
	MessageTypes[BringUpStatusReplyTypeID] = (*BringUpStatusReply)(nil)
	MessageTypes[BringUpStartTypeID] = (*BringUpStart)(nil)
	MessageTypes[BringUpStopTypeID] = (*BringUpStop)(nil)
}
