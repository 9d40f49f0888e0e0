// Package testframe 为测试构造以太网帧
package testframe

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
)

var (
	SrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	SrcIP  = net.IPv4(192, 168, 1, 10)
	DstIP  = net.IPv4(192, 168, 1, 1)
)

// Options 帧构造参数
type Options struct {
	Protocol layers.IPProtocol
	SrcPort  uint16
	DstPort  uint16
	ID       uint16
	Payload  []byte
}

// Build 构造 Ethernet/IPv4/(UDP|TCP|ICMP) 帧, 长度和校验和自动填充
func Build(o Options) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       SrcMAC,
		DstMAC:       DstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       o.ID,
		Protocol: o.Protocol,
		SrcIP:    SrcIP,
		DstIP:    DstIP,
	}

	stack := []gopacket.SerializableLayer{eth, ip}
	switch o.Protocol {
	case layers.IPProtocolUDP:
		udp := &layers.UDP{SrcPort: layers.UDPPort(o.SrcPort), DstPort: layers.UDPPort(o.DstPort)}
		_ = udp.SetNetworkLayerForChecksum(ip)
		stack = append(stack, udp)
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(o.SrcPort),
			DstPort: layers.TCPPort(o.DstPort),
			Seq:     1,
			SYN:     len(o.Payload) == 0,
			PSH:     len(o.Payload) > 0,
			ACK:     len(o.Payload) > 0,
			Window:  65535,
		}
		_ = tcp.SetNetworkLayerForChecksum(ip)
		stack = append(stack, tcp)
	case layers.IPProtocolICMPv4:
		stack = append(stack, &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       1,
			Seq:      1,
		})
	}
	if len(o.Payload) > 0 {
		stack = append(stack, gopacket.Payload(o.Payload))
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// UDP 构造 UDP 帧
func UDP(src, dst, id uint16, payload []byte) []byte {
	return Build(Options{Protocol: layers.IPProtocolUDP, SrcPort: src, DstPort: dst, ID: id, Payload: payload})
}

// TCP 构造 TCP 帧
func TCP(src, dst, id uint16, payload []byte) []byte {
	return Build(Options{Protocol: layers.IPProtocolTCP, SrcPort: src, DstPort: dst, ID: id, Payload: payload})
}

// ICMP 构造 ICMP echo 帧
func ICMP(id uint16) []byte {
	return Build(Options{Protocol: layers.IPProtocolICMPv4, ID: id})
}

// ARP 构造非 IPv4 的以太网帧
func ARP() []byte {
	eth := &layers.Ethernet{
		SrcMAC:       SrcMAC,
		DstMAC:       layers.EthernetBroadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: SrcIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    DstIP.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// DNSQuery 构造 A 记录查询的 DNS 负载
func DNSQuery(name string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	data, err := m.Pack()
	if err != nil {
		panic(err)
	}
	return data
}
