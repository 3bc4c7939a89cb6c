package client

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
	// HandshakeTimeout 等待欢迎消息的最长时间
	HandshakeTimeout = 10 * time.Second
	sendQueueSize    = 256
	eventQueueSize   = 256
)

// ErrServerRejected 服务器以错误消息拒绝了请求
var ErrServerRejected = errors.New("服务器拒绝")

// NetworkClient 网络客户端
type NetworkClient struct {
	conn       net.Conn
	serverAddr string
	proto      string
	logger     *log.Logger

	connected atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// 消息队列
	welcomeChan chan *protocol.Packet
	// eventChan 状态与角色离开按到达顺序排队
	eventChan chan *protocol.Packet
	pongChan  chan *protocol.Packet
	errChan   chan error

	sendChan chan []byte
	welcome  *protocol.Packet
}

// NewNetworkClient 创建网络客户端
func NewNetworkClient(serverAddr, proto string, logger *log.Logger) *NetworkClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &NetworkClient{
		serverAddr:  serverAddr,
		proto:       proto,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		welcomeChan: make(chan *protocol.Packet, 1),
		eventChan:   make(chan *protocol.Packet, eventQueueSize),
		pongChan:    make(chan *protocol.Packet, 16),
		errChan:     make(chan error, 1),
		sendChan:    make(chan []byte, sendQueueSize),
	}
}

// Connect 连接服务器并以 name 加入，返回欢迎消息
func (nc *NetworkClient) Connect(ctx context.Context, name string) (*protocol.Packet, error) {
	return nc.handshake(ctx, protocol.NewJoinPacket(name))
}

// Resume 连接服务器并用会话 token 接管原来的角色
func (nc *NetworkClient) Resume(ctx context.Context, token string) (*protocol.Packet, error) {
	return nc.handshake(ctx, protocol.NewReconnectPacket(token))
}

func (nc *NetworkClient) handshake(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	nc.logger.Info("连接到服务器", "addr", nc.serverAddr, "transport", nc.proto)

	conn, err := transport.Dial(ctx, nc.proto, nc.serverAddr)
	if err != nil {
		return nil, fmt.Errorf("连接服务器失败: %w", err)
	}
	nc.conn = conn
	nc.connected.Store(true)

	nc.wg.Add(2)
	go nc.receiveLoop()
	go nc.sendLoop()

	if err := nc.send(req); err != nil {
		nc.Close()
		return nil, fmt.Errorf("发送 %s 失败: %w", req.Type, err)
	}

	timer := time.NewTimer(HandshakeTimeout)
	defer timer.Stop()
	select {
	case w := <-nc.welcomeChan:
		nc.welcome = w
		nc.logger.Info("已加入", "actor", w.ActorID, "server_time", w.ServerTime)
		return w, nil
	case err := <-nc.errChan:
		nc.Close()
		return nil, err
	case <-ctx.Done():
		nc.Close()
		return nil, ctx.Err()
	case <-timer.C:
		nc.Close()
		return nil, errors.New("等待欢迎消息超时")
	}
}

// Welcome 最近一次握手收到的欢迎消息
func (nc *NetworkClient) Welcome() *protocol.Packet { return nc.welcome }

// Close 关闭连接，可重复调用
func (nc *NetworkClient) Close() {
	nc.closeOnce.Do(func() {
		nc.connected.Store(false)
		nc.cancel()
		if nc.conn != nil {
			_ = nc.conn.Close()
		}
		nc.wg.Wait()
		nc.logger.Info("网络客户端已关闭")
	})
}

// IsConnected 检查是否已连接
func (nc *NetworkClient) IsConnected() bool {
	return nc.connected.Load()
}

// Err 连接出错时收到一次错误
func (nc *NetworkClient) Err() <-chan error { return nc.errChan }

// ========== 消息接收 ==========

func (nc *NetworkClient) receiveLoop() {
	defer nc.wg.Done()

	for {
		data, err := transport.ReadFrame(nc.conn)
		switch {
		case errors.Is(err, transport.ErrEmptyFrame):
			continue
		case err != nil:
			nc.connected.Store(false)
			if nc.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("服务器关闭了连接: %w", err)
				}
				nc.fail(fmt.Errorf("读取消息失败: %w", err))
			}
			return
		}

		if err := nc.handleMessage(data); err != nil {
			nc.logger.Warn("处理消息失败", "err", err)
		}
	}
}

func (nc *NetworkClient) fail(err error) {
	select {
	case nc.errChan <- err:
	default:
	}
}

func (nc *NetworkClient) handleMessage(data []byte) error {
	pkt, err := protocol.UnmarshalPacket(data)
	if err != nil {
		return fmt.Errorf("反序列化失败: %w", err)
	}

	switch pkt.Type {
	case protocol.PacketWelcome:
		select {
		case nc.welcomeChan <- pkt:
		default:
		}

	case protocol.PacketState, protocol.PacketActorLeave:
		// 状态是差量编码的，丢一个包接收方就再也对不上基准，队列满时阻塞读循环
		select {
		case nc.eventChan <- pkt:
		case <-nc.ctx.Done():
		}

	case protocol.PacketPing:
		// 服务器心跳，原样回显
		return nc.send(protocol.NewPongPacket(pkt.SentAt, 0))

	case protocol.PacketPong:
		select {
		case nc.pongChan <- pkt:
		default:
		}

	case protocol.PacketError:
		nc.fail(fmt.Errorf("%w: %s", ErrServerRejected, pkt.Name))

	default:
		return fmt.Errorf("未知消息类型: %s", pkt.Type)
	}
	return nil
}

// ========== 消息发送 ==========

func (nc *NetworkClient) sendLoop() {
	defer nc.wg.Done()

	for {
		select {
		case <-nc.ctx.Done():
			return
		case data := <-nc.sendChan:
			if err := transport.WriteFrame(nc.conn, data); err != nil {
				nc.logger.Warn("发送数据失败", "err", err)
				return
			}
		}
	}
}

func (nc *NetworkClient) send(pkt *protocol.Packet) error {
	data, err := protocol.MarshalPacket(pkt)
	if err != nil {
		return err
	}
	select {
	case nc.sendChan <- data:
		return nil
	default:
		return errors.New("发送队列满")
	}
}

// SendMoves 发送一批移动
func (nc *NetworkClient) SendMoves(payload []byte) error {
	if !nc.IsConnected() {
		return errors.New("未连接")
	}
	return nc.send(protocol.NewMovesPacket(payload))
}

// SendPing 发送对时请求，sentAt 由服务器原样回显
func (nc *NetworkClient) SendPing(sentAt int64) error {
	if !nc.IsConnected() {
		return errors.New("未连接")
	}
	return nc.send(protocol.NewPingPacket(sentAt))
}

// ========== 非阻塞接收 ==========

// ReceiveEvent 按到达顺序接收一个状态包或角色离开通知（非阻塞）
func (nc *NetworkClient) ReceiveEvent() *protocol.Packet {
	select {
	case pkt := <-nc.eventChan:
		return pkt
	default:
		return nil
	}
}

// ReceivePong 接收一个对时响应（非阻塞）
func (nc *NetworkClient) ReceivePong() *protocol.Packet {
	select {
	case pkt := <-nc.pongChan:
		return pkt
	default:
		return nil
	}
}
