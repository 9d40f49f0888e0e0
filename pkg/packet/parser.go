package packet

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/ipv4"
)

const (
	EthernetHeaderLen = 14
	IPv4HeaderLen     = ipv4.HeaderLen
	UDPHeaderLen      = 8
	TCPHeaderLen      = 20
)

// Ethernet 以太网头部视图
type Ethernet struct {
	raw []byte
}

// DstMAC 目的 MAC
func (e Ethernet) DstMAC() net.HardwareAddr {
	return net.HardwareAddr(e.raw[0:6])
}

// SrcMAC 源 MAC
func (e Ethernet) SrcMAC() net.HardwareAddr {
	return net.HardwareAddr(e.raw[6:12])
}

// EtherType 上层协议类型
func (e Ethernet) EtherType() layers.EthernetType {
	return layers.EthernetType(binary.BigEndian.Uint16(e.raw[12:14]))
}

// IPv4 IPv4 头部视图 (包含选项)
type IPv4 struct {
	raw []byte
}

// HeaderLen 头部长度 (IHL*4)
func (h IPv4) HeaderLen() int {
	return len(h.raw)
}

// ID 标识字段 (主机字节序)
func (h IPv4) ID() uint16 {
	return binary.BigEndian.Uint16(h.raw[4:6])
}

// IDWire 标识字段的原始线上字节
func (h IPv4) IDWire() [2]byte {
	return [2]byte{h.raw[4], h.raw[5]}
}

// TTL 生存时间
func (h IPv4) TTL() uint8 {
	return h.raw[8]
}

// Protocol 上层协议号
func (h IPv4) Protocol() layers.IPProtocol {
	return layers.IPProtocol(h.raw[9])
}

// SrcIP 源地址
func (h IPv4) SrcIP() netip.Addr {
	return netip.AddrFrom4([4]byte(h.raw[12:16]))
}

// DstIP 目的地址
func (h IPv4) DstIP() netip.Addr {
	return netip.AddrFrom4([4]byte(h.raw[16:20]))
}

// UDP UDP 头部视图
type UDP struct {
	raw []byte
}

func (u UDP) SrcPort() uint16 { return binary.BigEndian.Uint16(u.raw[0:2]) }
func (u UDP) DstPort() uint16 { return binary.BigEndian.Uint16(u.raw[2:4]) }
func (u UDP) Length() uint16  { return binary.BigEndian.Uint16(u.raw[4:6]) }

// TCP TCP 头部视图 (包含选项)
type TCP struct {
	raw []byte
}

func (t TCP) SrcPort() uint16 { return binary.BigEndian.Uint16(t.raw[0:2]) }
func (t TCP) DstPort() uint16 { return binary.BigEndian.Uint16(t.raw[2:4]) }

// HeaderLen 头部长度 (data offset*4)
func (t TCP) HeaderLen() int {
	return len(t.raw)
}

// ParseEthernet 解析以太网头部
func ParseEthernet(r Range) (Ethernet, Range, error) {
	hdr, rest, ok := r.take(EthernetHeaderLen)
	if !ok {
		return Ethernet{}, r, fail(LayerEthernet, KindTruncated)
	}
	return Ethernet{raw: hdr}, rest, nil
}

// ParseIPv4 解析 IPv4 头部
// 先校验固定 20 字节, 再按 IHL 校验包含选项的完整头部
func ParseIPv4(r Range) (IPv4, Range, error) {
	if r.Len() < IPv4HeaderLen {
		return IPv4{}, r, fail(LayerIPv4, KindTruncated)
	}
	ihl := int(r.b[0]&0x0F) * 4
	if ihl < IPv4HeaderLen {
		return IPv4{}, r, fail(LayerIPv4, KindBadLength)
	}
	hdr, rest, ok := r.take(ihl)
	if !ok {
		return IPv4{}, r, fail(LayerIPv4, KindTruncated)
	}
	return IPv4{raw: hdr}, rest, nil
}

// ParseUDP 解析 UDP 头部
func ParseUDP(r Range) (UDP, Range, error) {
	hdr, rest, ok := r.take(UDPHeaderLen)
	if !ok {
		return UDP{}, r, fail(LayerUDP, KindTruncated)
	}
	return UDP{raw: hdr}, rest, nil
}

// ParseTCP 解析 TCP 头部
// data offset 以 4 字节为单位, 同样需要在接受前校验是否越界
func ParseTCP(r Range) (TCP, Range, error) {
	if r.Len() < TCPHeaderLen {
		return TCP{}, r, fail(LayerTCP, KindTruncated)
	}
	doff := int(r.b[12]>>4) * 4
	if doff < TCPHeaderLen {
		return TCP{}, r, fail(LayerTCP, KindBadLength)
	}
	hdr, rest, ok := r.take(doff)
	if !ok {
		return TCP{}, r, fail(LayerTCP, KindTruncated)
	}
	return TCP{raw: hdr}, rest, nil
}
