package adapter

import (
	"context"
	"net"
	"sync/atomic"
)

var (
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
)

// Traffic 返回本进程所有适配器连接的累计上行/下行字节数, 包含代理握手。
func Traffic() (sent, received uint64) {
	return bytesSent.Load(), bytesReceived.Load()
}

// countedConn 是一个 net.Conn 的包装器，用于原子地统计上行和下行流量。
type countedConn struct {
	net.Conn
}

func (c countedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		bytesReceived.Add(uint64(n))
	}
	return n, err
}

func (c countedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		bytesSent.Add(uint64(n))
	}
	return n, err
}

// countingDialer wraps every connection it opens in a countedConn.
type countingDialer struct {
	ContextDialer
}

func (d countingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := d.ContextDialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return countedConn{Conn: conn}, nil
}
