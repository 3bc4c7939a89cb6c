package server

type EventKind int

const (
	EventUnknown EventKind = iota
	EventJoin
	EventReconnect
	EventMoves
	EventPing
	EventPong
)

type JoinEvent struct {
	Name string
}

type ReconnectEvent struct {
	SessionToken string
}

// MovesEvent 一批移动的位流，由对应角色的 Authority 解包
type MovesEvent struct {
	Payload []byte
}

type PingEvent struct {
	ClientTime int64
}

type PongEvent struct {
	ClientTime int64
}

type ServerEvent struct {
	Kind      EventKind
	Join      *JoinEvent
	Reconnect *ReconnectEvent
	Moves     *MovesEvent
	Ping      *PingEvent
	Pong      *PongEvent
}
