//go:build linux

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"xdp-dns-redirect/pkg/config"
)

func TestComputeFrameSizeAndBlocks(t *testing.T) {
	page := os.Getpagesize()

	frameSize, blockSize, numBlocks, err := computeFrameSizeAndBlocks(2048, 8<<20)
	require.NoError(t, err)
	assert.Zero(t, page%frameSize, "frames must tile a page")
	assert.GreaterOrEqual(t, frameSize, 2048)
	assert.Equal(t, frameSize*128, blockSize)
	assert.Equal(t, (8<<20)/blockSize, numBlocks)

	frameSize, _, _, err = computeFrameSizeAndBlocks(page+1, 64<<20)
	require.NoError(t, err)
	assert.Equal(t, 2*page, frameSize)

	_, _, _, err = computeFrameSizeAndBlocks(2048, 65536)
	assert.Error(t, err)
}

func TestInboundFilter(t *testing.T) {
	raw, err := inboundFilter(2048)
	require.NoError(t, err)

	insns, ok := bpf.Disassemble(raw)
	require.True(t, ok)
	assert.Equal(t, []bpf.Instruction{
		bpf.LoadExtension{Num: bpf.ExtType},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 1},
		bpf.RetConstant{Val: 2048},
		bpf.RetConstant{Val: 0},
	}, insns)
}

// loopback 上每个数据报出现两次: 发出一次, 接收一次; 只应读到接收的那一份
func TestAFPacketSource_InboundOnly(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("跳过测试: 需要 root 权限来打开 AF_PACKET 套接字")
	}

	src, err := NewAFPacketSource("lo", 0, config.CaptureConfig{
		SnapLen:    2048,
		BufferSize: 8 << 20,
		TimeoutMS:  10,
	})
	require.NoError(t, err)
	defer src.Close()

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := net.Dial("udp4", server.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	payload := []byte(fmt.Sprintf("dns-redirect-%d", time.Now().UnixNano()))
	_, err = client.Write(payload)
	require.NoError(t, err)

	seen := 0
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		f, err := src.ReadFrame()
		if errors.Is(err, ErrTimeout) {
			continue
		}
		require.NoError(t, err)
		if bytes.Contains(f.Data, payload) {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}
