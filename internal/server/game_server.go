package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"movesync/internal/config"
	"movesync/internal/telemetry"
	"movesync/pkg/protocol"
	"movesync/pkg/transport"
)

// GameServer 复制服务器：接受连接，把消息交给房间
type GameServer struct {
	cfg     *config.Config
	obs     *telemetry.Observability
	metrics *telemetry.Metrics
	tokens  *TokenSigner
	room    *Room

	listener transport.Listener
	nextConn atomic.Uint64

	// 控制
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// NewGameServer 创建新的服务器
func NewGameServer(cfg *config.Config, obs *telemetry.Observability) *GameServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &GameServer{
		cfg:      cfg,
		obs:      obs,
		metrics:  telemetry.MustMetrics(),
		tokens:   NewTokenSigner("", cfg.Server.SessionTTL),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
}

// Listen 开始监听并启动房间循环与接受循环，不阻塞
func (s *GameServer) Listen() error {
	listener, err := transport.Listen(s.cfg.Server.Transport, s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	s.listener = listener
	s.obs.Log.Info("服务器监听中", "addr", listener.Addr(), "transport", s.cfg.Server.Transport,
		"preset", s.cfg.Preset)

	s.room = NewRoom(s.ctx, s.cfg, s.obs, s.metrics, s.tokens)

	s.wg.Add(2)
	go s.room.Run(&s.wg)
	go s.acceptLoop()
	return nil
}

// Start 启动服务器并阻塞到 Shutdown
func (s *GameServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	<-s.shutdown
	s.obs.Log.Info("服务器正在关闭...")
	return nil
}

// Addr 实际监听地址，Listen 之前为 nil
func (s *GameServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown 优雅关闭服务器，可重复调用
func (s *GameServer) Shutdown() {
	s.once.Do(func() {
		s.cancel()
		if s.room != nil {
			s.room.Shutdown()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		close(s.shutdown)
		s.wg.Wait()
		s.obs.Log.Info("服务器已关闭")
	})
}

// acceptLoop 接受客户端连接
func (s *GameServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				s.obs.Log.Debug("停止接受新连接")
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.obs.Log.Warn("接受连接失败", "err", err)
			continue
		}

		id := protocol.ConnectionID(s.nextConn.Add(1))
		s.obs.Log.Debug("新连接", "conn", id, "remote", conn.RemoteAddr())

		c := NewConnection(conn, s, id)
		s.wg.Add(1)
		go c.Handle(s.ctx, &s.wg)
	}
}
