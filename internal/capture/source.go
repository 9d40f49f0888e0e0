// Package capture 提供用户态宿主的帧来源
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ErrTimeout 读取超时, 调用方可重试
var ErrTimeout = errors.New("capture read timeout")

// Frame 一个入口帧及其接收队列
type Frame struct {
	Data      []byte
	Queue     uint32
	Timestamp time.Time
}

// Source 帧来源; 读完返回 io.EOF
type Source interface {
	ReadFrame() (Frame, error)
	Close() error
}

// PcapSource 从 pcap 文件回放帧
type PcapSource struct {
	reader *pcapgo.Reader
	closer io.Closer
	queue  uint32
}

// NewPcapSource 从 reader 读取 pcap 数据, 所有帧标记为 queue
func NewPcapSource(r io.Reader, queue uint32) (*PcapSource, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	if lt := reader.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, fmt.Errorf("unsupported pcap link type %s", lt)
	}
	return &PcapSource{reader: reader, queue: queue}, nil
}

// OpenPcap 打开 pcap 文件
func OpenPcap(path string, queue uint32) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewPcapSource(f, queue)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = f
	return src, nil
}

// ReadFrame 读取下一帧
func (s *PcapSource) ReadFrame() (Frame, error) {
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Data: data, Queue: s.queue, Timestamp: ci.Timestamp}, nil
}

// Close 关闭底层文件
func (s *PcapSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
