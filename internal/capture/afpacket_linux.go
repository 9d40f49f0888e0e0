//go:build linux

package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"xdp-dns-redirect/pkg/config"
)

// AFPacketSource 通过 AF_PACKET (TPacket v3) 实时抓包
// 只接收入口帧; AF_PACKET 无法得知硬件接收队列, 所有帧标记为配置的 queue
type AFPacketSource struct {
	tpacket *afpacket.TPacket
	queue   uint32
}

// NewAFPacketSource 在接口上打开抓包句柄
func NewAFPacketSource(iface string, queue uint32, opts config.CaptureConfig) (*AFPacketSource, error) {
	frameSize, blockSize, numBlocks, err := computeFrameSizeAndBlocks(opts.SnapLen, opts.BufferSize)
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(time.Duration(opts.TimeoutMS)*time.Millisecond),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("open af_packet on %s: %w", iface, err)
	}

	filter, err := inboundFilter(opts.SnapLen)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if err := tp.SetBPF(filter); err != nil {
		tp.Close()
		return nil, fmt.Errorf("set inbound filter on %s: %w", iface, err)
	}
	return &AFPacketSource{tpacket: tp, queue: queue}, nil
}

// inboundFilter 丢弃本机发出的帧 (pkttype PACKET_OUTGOING)
func inboundFilter(snapLen int) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 1},
		bpf.RetConstant{Val: uint32(snapLen)},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("assemble inbound filter: %w", err)
	}
	return raw, nil
}

func computeFrameSizeAndBlocks(snapLen, bufferSize int) (frameSize, blockSize, numBlocks int, err error) {
	pageSize := os.Getpagesize()
	if snapLen < pageSize {
		frameSize = pageSize / (pageSize / snapLen)
	} else {
		frameSize = (snapLen/pageSize + 1) * pageSize
	}
	blockSize = frameSize * 128
	numBlocks = bufferSize / blockSize

	if numBlocks < 1 {
		return 0, 0, 0, fmt.Errorf("buffer size %d too small for frame size %d", bufferSize, frameSize)
	}
	return frameSize, blockSize, numBlocks, nil
}

// ReadFrame 读取下一帧; 轮询超时返回 ErrTimeout
func (s *AFPacketSource) ReadFrame() (Frame, error) {
	data, ci, err := s.tpacket.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return Frame{}, ErrTimeout
		}
		return Frame{}, err
	}
	return Frame{Data: data, Queue: s.queue, Timestamp: ci.Timestamp}, nil
}

// Close 关闭句柄
func (s *AFPacketSource) Close() error {
	s.tpacket.Close()
	return nil
}
