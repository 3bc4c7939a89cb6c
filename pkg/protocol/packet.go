package protocol

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"movesync/pkg/core"
)

// PacketType 消息类型
type PacketType uint8

const (
	PacketUnknown PacketType = iota
	PacketJoin
	PacketWelcome
	PacketReconnect
	PacketMoves
	PacketState
	PacketActorLeave
	PacketPing
	PacketPong
	PacketError
)

var packetTypeNames = [...]string{"unknown", "join", "welcome", "reconnect", "moves", "state", "actor_leave", "ping", "pong", "error"}

func (t PacketType) String() string {
	if int(t) < len(packetTypeNames) {
		return packetTypeNames[t]
	}
	return fmt.Sprintf("PacketType(%d)", uint8(t))
}

// Role 状态包的接收角色
type Role uint8

const (
	RoleNone Role = iota
	RoleAutonomous
	RoleSimulated
)

// 字段编号
const (
	fieldType       protowire.Number = 1
	fieldActorID    protowire.Number = 2
	fieldRole       protowire.Number = 3
	fieldPayload    protowire.Number = 4
	fieldName       protowire.Number = 5
	fieldToken      protowire.Number = 6
	fieldSentAt     protowire.Number = 7
	fieldServerTime protowire.Number = 8
	fieldSpawnX     protowire.Number = 9
	fieldSpawnY     protowire.Number = 10
	fieldSpawnZ     protowire.Number = 11
)

// ErrMalformedPacket 外层消息无法解析
var ErrMalformedPacket = errors.New("消息格式错误")

// Packet 外层消息。Payload 承载移动批次或状态的位流
type Packet struct {
	Type       PacketType
	ActorID    uint32
	Role       Role
	Payload    []byte
	Name       string
	Token      string
	SentAt     int64   // 发送方本地时间（微秒），由对端原样回显
	ServerTime float64 // 服务器世界时间（秒）
	Spawn      core.Vec3
}

// ========== 辅助构造方法 ==========

// NewJoinPacket 构造加入请求
func NewJoinPacket(name string) *Packet {
	return &Packet{Type: PacketJoin, Name: name}
}

// NewWelcomePacket 构造加入响应
func NewWelcomePacket(actorID uint32, token string, serverTime float64, spawn core.Vec3) *Packet {
	return &Packet{Type: PacketWelcome, ActorID: actorID, Token: token, ServerTime: serverTime, Spawn: spawn}
}

// NewReconnectPacket 构造重连请求
func NewReconnectPacket(token string) *Packet {
	return &Packet{Type: PacketReconnect, Token: token}
}

// NewMovesPacket 构造移动批次
func NewMovesPacket(payload []byte) *Packet {
	return &Packet{Type: PacketMoves, Payload: payload}
}

// NewStatePacket 构造某个角色的状态
func NewStatePacket(actorID uint32, role Role, payload []byte) *Packet {
	return &Packet{Type: PacketState, ActorID: actorID, Role: role, Payload: payload}
}

// NewActorLeavePacket 构造角色离开通知
func NewActorLeavePacket(actorID uint32) *Packet {
	return &Packet{Type: PacketActorLeave, ActorID: actorID}
}

// NewPingPacket 构造心跳
func NewPingPacket(sentAt int64) *Packet {
	return &Packet{Type: PacketPing, SentAt: sentAt}
}

// NewPongPacket 构造心跳响应，回显 sentAt 并附带服务器时间
func NewPongPacket(sentAt int64, serverTime float64) *Packet {
	return &Packet{Type: PacketPong, SentAt: sentAt, ServerTime: serverTime}
}

// NewErrorPacket 构造错误通知
func NewErrorPacket(msg string) *Packet {
	return &Packet{Type: PacketError, Name: msg}
}

// ========== 序列化与反序列化 ==========

// MarshalPacket 按 protobuf 线格式编码，零值字段省略
func MarshalPacket(pkt *Packet) ([]byte, error) {
	if pkt.Type == PacketUnknown {
		return nil, fmt.Errorf("%w: 缺少消息类型", ErrMalformedPacket)
	}
	b := make([]byte, 0, 16+len(pkt.Payload)+len(pkt.Name)+len(pkt.Token))

	b = appendVarint(b, fieldType, uint64(pkt.Type))
	b = appendVarint(b, fieldActorID, uint64(pkt.ActorID))
	b = appendVarint(b, fieldRole, uint64(pkt.Role))
	if len(pkt.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, pkt.Payload)
	}
	if pkt.Name != "" {
		b = protowire.AppendTag(b, fieldName, protowire.BytesType)
		b = protowire.AppendString(b, pkt.Name)
	}
	if pkt.Token != "" {
		b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
		b = protowire.AppendString(b, pkt.Token)
	}
	b = appendVarint(b, fieldSentAt, uint64(pkt.SentAt))
	b = appendDouble(b, fieldServerTime, pkt.ServerTime)
	b = appendDouble(b, fieldSpawnX, pkt.Spawn[0])
	b = appendDouble(b, fieldSpawnY, pkt.Spawn[1])
	b = appendDouble(b, fieldSpawnZ, pkt.Spawn[2])
	return b, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// UnmarshalPacket 解析外层消息，未知字段跳过
func UnmarshalPacket(data []byte) (*Packet, error) {
	pkt := &Packet{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(m))
			}
			setVarint(pkt, num, v)
			n = m
		case typ == protowire.BytesType && isBytesField(num):
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(m))
			}
			setBytes(pkt, num, v)
			n = m
		case typ == protowire.Fixed64Type && isDoubleField(num):
			v, m := protowire.ConsumeFixed64(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(m))
			}
			setDouble(pkt, num, math.Float64frombits(v))
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	if pkt.Type == PacketUnknown || pkt.Type > PacketError {
		return nil, fmt.Errorf("%w: 未知消息类型 %d", ErrMalformedPacket, pkt.Type)
	}
	return pkt, nil
}

func isVarintField(num protowire.Number) bool {
	return num == fieldType || num == fieldActorID || num == fieldRole || num == fieldSentAt
}

func isBytesField(num protowire.Number) bool {
	return num == fieldPayload || num == fieldName || num == fieldToken
}

func isDoubleField(num protowire.Number) bool {
	return num >= fieldServerTime && num <= fieldSpawnZ
}

func setVarint(pkt *Packet, num protowire.Number, v uint64) {
	switch num {
	case fieldType:
		pkt.Type = PacketType(v)
	case fieldActorID:
		pkt.ActorID = uint32(v)
	case fieldRole:
		pkt.Role = Role(v)
	case fieldSentAt:
		pkt.SentAt = int64(v)
	}
}

func setBytes(pkt *Packet, num protowire.Number, v []byte) {
	switch num {
	case fieldPayload:
		pkt.Payload = append([]byte(nil), v...)
	case fieldName:
		pkt.Name = string(v)
	case fieldToken:
		pkt.Token = string(v)
	}
}

func setDouble(pkt *Packet, num protowire.Number, v float64) {
	switch num {
	case fieldServerTime:
		pkt.ServerTime = v
	case fieldSpawnX:
		pkt.Spawn[0] = v
	case fieldSpawnY:
		pkt.Spawn[1] = v
	case fieldSpawnZ:
		pkt.Spawn[2] = v
	}
}
