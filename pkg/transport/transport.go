// Package transport 为服务器与客户端提供 tcp / kcp / ws 三种可靠有序的字节流连接
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// DialTimeout 建立连接的默认超时
const DialTimeout = 5 * time.Second

// Listener 服务器监听器。Accept 返回的连接都是字节流，消息边界由帧格式决定
type Listener interface {
	Accept() (net.Conn, error)
	Close() error
	Addr() net.Addr
}

// Listen 按协议名监听
func Listen(proto, addr string) (Listener, error) {
	switch proto {
	case "", "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{listener: listener}, nil
	case "kcp":
		listener, err := kcp.ListenWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return &kcpListener{listener: listener}, nil
	case "ws":
		listener, err := listenWS(addr)
		if err != nil {
			return nil, err
		}
		return listener, nil
	default:
		return nil, fmt.Errorf("不支持的协议: %s", proto)
	}
}

// Dial 按协议名连接服务器
func Dial(ctx context.Context, proto, addr string) (net.Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DialTimeout)
		defer cancel()
	}

	switch proto {
	case "", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return conn, nil
	case "kcp":
		sess, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err != nil {
			return nil, err
		}
		tuneKCP(sess)
		return sess, nil
	case "ws":
		return dialWS(ctx, addr)
	default:
		return nil, fmt.Errorf("不支持的协议: %s", proto)
	}
}

// tuneKCP 低延迟模式：nodelay、10ms 内部时钟、快速重传、关闭拥塞控制
func tuneKCP(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetWindowSize(256, 256)
	sess.SetACKNoDelay(true)
}

type tcpListener struct {
	listener net.Listener
}

func (l *tcpListener) Accept() (net.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	// 禁用 Nagle 算法
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

func (l *tcpListener) Close() error {
	return l.listener.Close()
}

func (l *tcpListener) Addr() net.Addr {
	return l.listener.Addr()
}

type kcpListener struct {
	listener *kcp.Listener
}

func (l *kcpListener) Accept() (net.Conn, error) {
	sess, err := l.listener.AcceptKCP()
	if err != nil {
		return nil, err
	}
	tuneKCP(sess)
	return sess, nil
}

func (l *kcpListener) Close() error {
	return l.listener.Close()
}

func (l *kcpListener) Addr() net.Addr {
	return l.listener.Addr()
}
