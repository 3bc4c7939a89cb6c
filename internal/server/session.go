package server

import (
	"movesync/pkg/protocol"
)

// Session 房间看到的客户端连接
type Session interface {
	ID() protocol.ConnectionID
	Send(pkt *protocol.Packet) error
	// RTT 最近一次测得的往返时间（秒）
	RTT() float64
	Close()
	CloseWithoutNotify()
}
