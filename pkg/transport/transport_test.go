package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello")))
	require.NoError(t, WriteFrame(&buf, []byte{1, 2, 3}))
	assert.Equal(t, []byte{0, 0, 0, 5}, buf.Bytes()[:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, WriteFrame(&buf, nil), ErrEmptyFrame)
	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)
	assert.Zero(t, buf.Len())

	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0x10, 0x01}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrEmptyFrame)
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 4, 1}))
	assert.Error(t, err)
}

func TestUnknownProtocol(t *testing.T) {
	_, err := Listen("quic", "127.0.0.1:0")
	assert.Error(t, err)
	_, err = Dial(context.Background(), "quic", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestEcho(t *testing.T) {
	for _, proto := range []string{"tcp", "kcp", "ws"} {
		t.Run(proto, func(t *testing.T) {
			ln, err := Listen(proto, "127.0.0.1:0")
			require.NoError(t, err)
			t.Cleanup(func() { _ = ln.Close() })

			go func() {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				for {
					data, err := ReadFrame(conn)
					if err != nil {
						return
					}
					if err := WriteFrame(conn, data); err != nil {
						return
					}
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, err := Dial(ctx, proto, ln.Addr().String())
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

			msgs := [][]byte{[]byte("moves"), bytes.Repeat([]byte{0xAB}, MaxFrameSize)}
			for _, m := range msgs {
				require.NoError(t, WriteFrame(conn, m))
			}
			for _, m := range msgs {
				got, err := ReadFrame(conn)
				require.NoError(t, err)
				assert.Equal(t, m, got)
			}
		})
	}
}
