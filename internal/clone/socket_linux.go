//go:build linux

// Package clone 通过 AF_PACKET 将帧副本发送到镜像接口
package clone

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

var ErrClosed = errors.New("clone socket closed")

// Socket 只发不收的 AF_PACKET 原始套接字
type Socket struct {
	mu sync.RWMutex
	fd int
}

// Open 打开套接字; 需要 CAP_NET_RAW
func Open() (*Socket, error) {
	// 协议为 0 时内核不向该套接字投递任何入口帧
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open af_packet socket: %w", err)
	}
	return &Socket{fd: fd}, nil
}

// Clone 将 frame 原样发送到 ifindex, 不阻塞
func (s *Socket) Clone(ifindex uint32, frame []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fd < 0 {
		return ErrClosed
	}
	sa := &unix.SockaddrLinklayer{
		Ifindex:  int(ifindex),
		Protocol: htons(unix.ETH_P_ALL),
		Halen:    6,
	}
	if len(frame) >= 6 {
		copy(sa.Addr[:6], frame[:6])
	}
	if err := unix.Sendto(s.fd, frame, unix.MSG_DONTWAIT, sa); err != nil {
		return fmt.Errorf("clone to ifindex %d: %w", ifindex, err)
	}
	return nil
}

// Close 关闭套接字
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
