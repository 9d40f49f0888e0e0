//go:build linux

package clone

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"xdp-dns-redirect/internal/testframe"
	"xdp-dns-redirect/pkg/mirror"
)

// 检查是否有 root 权限
func checkRoot(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("跳过测试: 需要 root 权限来打开 AF_PACKET 套接字")
	}
}

func loopbackIndex(t *testing.T) uint32 {
	link, err := netlink.LinkByName("lo")
	if err != nil {
		t.Skipf("没有 loopback 接口: %v", err)
	}
	return uint32(link.Attrs().Index)
}

func TestHtons(t *testing.T) {
	assert.Equal(t, uint16(0x0300), htons(0x0003))
	assert.Equal(t, uint16(0x3412), htons(0x1234))
}

func TestSocket_CloneToLoopback(t *testing.T) {
	checkRoot(t)
	ifindex := loopbackIndex(t)

	s, err := Open()
	require.NoError(t, err)

	var c mirror.Cloner = s
	frame := testframe.UDP(40000, 53, 1, testframe.DNSQuery("example.com"))
	assert.NoError(t, c.Clone(ifindex, frame))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Clone(ifindex, frame), ErrClosed)
}

func TestSocket_UnknownInterface(t *testing.T) {
	checkRoot(t)

	s, err := Open()
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Clone(0x7fffffff, testframe.ICMP(1)))
}
