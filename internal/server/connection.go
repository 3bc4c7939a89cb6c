package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"movesync/pkg/protocol"
	"movesync/pkg/transport"
)

const (
	readTimeout   = 15 * time.Second // 读取超时
	writeTimeout  = 1 * time.Second  // 写入超时
	sendQueueSize = 256
)

var ErrSendQueueFull = errors.New("发送队列满")

// Connection 表示一个客户端连接
type Connection struct {
	conn   net.Conn
	server *GameServer
	id     protocol.ConnectionID
	logger *log.Logger

	// 发送队列
	sendChan chan []byte
	closeCh  chan struct{}
	closed   bool
	closeMu  sync.Mutex

	joined       atomic.Bool
	lastRecvTime atomic.Value
	rttMicros    atomic.Int64
}

// NewConnection 创建新连接，连接到服务器上
func NewConnection(conn net.Conn, server *GameServer, id protocol.ConnectionID) *Connection {
	c := &Connection{
		conn:     conn,
		server:   server,
		id:       id,
		logger:   server.obs.Log.With("conn", id),
		sendChan: make(chan []byte, sendQueueSize),
		closeCh:  make(chan struct{}),
	}
	c.lastRecvTime.Store(time.Now())
	return c
}

// Handle 处理连接，直到上下文取消或连接关闭
func (c *Connection) Handle(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	c.logger.Debug("连接处理开始", "remote", c.conn.RemoteAddr())

	wg.Add(3)
	go c.startHeartbeat(ctx, wg)
	go c.sendLoop(ctx, wg)
	go c.receiveLoop(ctx, wg)

	select {
	case <-ctx.Done():
	case <-c.closeCh:
	}

	c.Close()
}

// ID 实现 Session
func (c *Connection) ID() protocol.ConnectionID { return c.id }

// RTT 实现 Session
func (c *Connection) RTT() float64 {
	return float64(c.rttMicros.Load()) / 1e6
}

// Close 关闭连接并通知房间
func (c *Connection) Close() {
	c.closeWithNotify(true)
}

// CloseWithoutNotify 关闭连接但不触发离开逻辑
func (c *Connection) CloseWithoutNotify() {
	c.closeWithNotify(false)
}

func (c *Connection) closeWithNotify(notify bool) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	close(c.closeCh)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.sendChan)
	c.closeMu.Unlock()

	// 房间循环可能正在向本连接发送，通知必须在释放锁之后
	if notify && c.joined.Load() {
		c.server.room.Leave(c.id)
	}
	c.logger.Info("连接已关闭")
}

// Send 实现 Session：序列化后异步发送
func (c *Connection) Send(pkt *protocol.Packet) error {
	data, err := protocol.MarshalPacket(pkt)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", pkt.Type, err)
	}
	return c.sendRaw(data)
}

func (c *Connection) sendRaw(data []byte) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return fmt.Errorf("连接已关闭")
	}

	select {
	case c.sendChan <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// sendLoop 发送循环
func (c *Connection) sendLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case data, ok := <-c.sendChan:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := transport.WriteFrame(c.conn, data); err != nil {
				c.logger.Warn("发送数据失败", "err", err)
				c.Close()
				return
			}
		}
	}
}

// receiveLoop 接收循环
func (c *Connection) receiveLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		data, err := transport.ReadFrame(c.conn)
		switch {
		case errors.Is(err, transport.ErrEmptyFrame):
			c.logger.Debug("收到空消息")
			continue
		case err != nil:
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger.Warn("读取超时")
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("读取消息失败", "err", err)
			}
			c.Close()
			return
		}

		c.lastRecvTime.Store(time.Now())
		if err := c.handleMessage(data); err != nil {
			c.logger.Warn("处理消息失败", "err", err)
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(data []byte) error {
	event, err := DecodePacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch event.Kind {
	case EventJoin:
		if c.joined.Load() {
			return fmt.Errorf("重复加入请求")
		}
		if err := c.server.room.Join(c, event.Join.Name); err != nil {
			_ = c.Send(protocol.NewErrorPacket(err.Error()))
			return fmt.Errorf("处理加入请求失败: %w", err)
		}
		c.joined.Store(true)

	case EventReconnect:
		if c.joined.Load() {
			return fmt.Errorf("已加入的连接不能重连")
		}
		if err := c.server.room.Reconnect(c, event.Reconnect.SessionToken); err != nil {
			_ = c.Send(protocol.NewErrorPacket(err.Error()))
			return fmt.Errorf("处理重连请求失败: %w", err)
		}
		c.joined.Store(true)

	case EventMoves:
		if !c.joined.Load() {
			return fmt.Errorf("未加入的连接发送了移动")
		}
		c.server.room.SubmitMoves(c.id, event.Moves.Payload)

	case EventPing:
		return c.Send(protocol.NewPongPacket(event.Ping.ClientTime, c.server.room.Now()))

	case EventPong:
		c.handlePong(event.Pong)

	default:
		return fmt.Errorf("未知消息类型")
	}
	return nil
}

// String 返回连接的字符串表示
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{%d, %s}", c.id, c.conn.RemoteAddr())
}

func (c *Connection) startHeartbeat(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := c.server.cfg.Server.HeartbeatInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			lastRecv, _ := c.lastRecvTime.Load().(time.Time)
			if time.Since(lastRecv) > 3*interval {
				c.logger.Warn("心跳超时")
				c.Close()
				return
			}
			_ = c.Send(protocol.NewPingPacket(time.Now().UnixMicro()))
		}
	}
}

// handlePong 服务器发出的 ping 以微秒时间戳回显，用于测量 RTT
func (c *Connection) handlePong(pong *PongEvent) {
	if pong == nil || pong.ClientTime <= 0 {
		return
	}
	rtt := time.Now().UnixMicro() - pong.ClientTime
	if rtt >= 0 {
		c.rttMicros.Store(rtt)
	}
}
