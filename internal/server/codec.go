package server

import (
	"fmt"

	"movesync/pkg/protocol"
)

// DecodePacket 解析服务器收到的数据包
func DecodePacket(data []byte) (*ServerEvent, error) {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return nil, fmt.Errorf("解析包失败: %w", err)
	}

	switch pkt.Type {
	case protocol.PacketJoin:
		return &ServerEvent{Kind: EventJoin, Join: &JoinEvent{Name: pkt.Name}}, nil

	case protocol.PacketReconnect:
		if pkt.Token == "" {
			return nil, fmt.Errorf("%w: 重连请求缺少 token", protocol.ErrMalformedPacket)
		}
		return &ServerEvent{Kind: EventReconnect, Reconnect: &ReconnectEvent{SessionToken: pkt.Token}}, nil

	case protocol.PacketMoves:
		if len(pkt.Payload) == 0 {
			return nil, fmt.Errorf("%w: 空移动批次", protocol.ErrMalformedPacket)
		}
		return &ServerEvent{Kind: EventMoves, Moves: &MovesEvent{Payload: pkt.Payload}}, nil

	case protocol.PacketPing:
		return &ServerEvent{Kind: EventPing, Ping: &PingEvent{ClientTime: pkt.SentAt}}, nil

	case protocol.PacketPong:
		return &ServerEvent{Kind: EventPong, Pong: &PongEvent{ClientTime: pkt.SentAt}}, nil

	default:
		return &ServerEvent{Kind: EventUnknown}, nil
	}
}
