// Package classifier 实现入口帧的分类与重定向决策
//
// Classify 是一个纯函数: 结果只取决于帧字节、队列号和传入的快照.
// 任何解析失败都放行 (fail-open), 唯一的非 PASS 结果是已确认的 DNS 流量.
package classifier

import (
	"github.com/google/gopacket/layers"

	"xdp-dns-redirect/pkg/packet"
	"xdp-dns-redirect/pkg/targets"
)

const (
	// ReinjectionMarker 回注标记, 消费者回注帧时写入 IPv4 标识字段
	ReinjectionMarker uint32 = 0x4B494453 // "KIDS"

	DNSPort = 53
)

// 只比较标记的低 16 位, 按标识字段在线上的字节序
var markerID = [2]byte{byte(ReinjectionMarker >> 8 & 0xFF), byte(ReinjectionMarker & 0xFF)}

// MarkerID 标记在 IPv4 标识字段中的取值
func MarkerID() uint16 {
	return uint16(ReinjectionMarker & 0xFFFF)
}

// Verdict 分类结果
type Verdict uint8

const (
	Pass     Verdict = iota // 继续正常处理
	Redirect                // 转交给消费者
)

// String 返回结果名称
func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// XDP 返回码
const (
	xdpPass     = 2
	xdpRedirect = 4
)

// XDPAction 对应的 XDP 返回码
func (v Verdict) XDPAction() uint32 {
	if v == Redirect {
		return xdpRedirect
	}
	return xdpPass
}

// Reason 决策原因
type Reason uint8

const (
	ReasonDNS           Reason = iota // 端口 53
	ReasonNotIPv4                     // 非 IPv4 以太网帧
	ReasonMalformed                   // 头部截断或长度字段非法
	ReasonReinjected                  // 带回注标记
	ReasonNotDNS                      // TCP/UDP 但不是端口 53
	ReasonOtherProtocol               // 非 TCP/UDP
)

var reasonNames = [...]string{
	ReasonDNS:           "dns",
	ReasonNotIPv4:       "not_ipv4",
	ReasonMalformed:     "malformed",
	ReasonReinjected:    "reinjected",
	ReasonNotDNS:        "not_dns",
	ReasonOtherProtocol: "other_protocol",
}

// String 返回原因名称
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Decision 单帧决策
type Decision struct {
	Verdict Verdict
	Reason  Reason
	Queue   uint32

	// 仅 Redirect 时有效; Resolved 为 false 表示表中没有该队列的条目,
	// 此时由宿主的重定向原语决定回退行为
	Target   targets.SocketID
	Resolved bool
}

type network uint8

const (
	networkOther network = iota
	networkIPv4
)

func networkOf(t layers.EthernetType) network {
	if t == layers.EthernetTypeIPv4 {
		return networkIPv4
	}
	return networkOther
}

type transport uint8

const (
	transportOther transport = iota
	transportUDP
	transportTCP
)

func transportOf(p layers.IPProtocol) transport {
	switch p {
	case layers.IPProtocolUDP:
		return transportUDP
	case layers.IPProtocolTCP:
		return transportTCP
	default:
		return transportOther
	}
}

// Classify 对一个入口帧做出决策
func Classify(frame []byte, queue uint32, snap *targets.Snapshot) Decision {
	eth, rest, err := packet.ParseEthernet(packet.NewRange(frame))
	if err != nil {
		return pass(queue, ReasonMalformed)
	}

	switch networkOf(eth.EtherType()) {
	case networkIPv4:
		return classifyIPv4(rest, queue, snap)
	default: // networkOther
		return pass(queue, ReasonNotIPv4)
	}
}

func classifyIPv4(r packet.Range, queue uint32, snap *targets.Snapshot) Decision {
	ip, rest, err := packet.ParseIPv4(r)
	if err != nil {
		return pass(queue, ReasonMalformed)
	}

	// 回注帧无条件放行, 优先于端口匹配
	if ip.IDWire() == markerID {
		return pass(queue, ReasonReinjected)
	}

	var src, dst uint16
	switch transportOf(ip.Protocol()) {
	case transportUDP:
		udp, _, err := packet.ParseUDP(rest)
		if err != nil {
			return pass(queue, ReasonMalformed)
		}
		src, dst = udp.SrcPort(), udp.DstPort()
	case transportTCP:
		tcp, _, err := packet.ParseTCP(rest)
		if err != nil {
			return pass(queue, ReasonMalformed)
		}
		src, dst = tcp.SrcPort(), tcp.DstPort()
	default: // transportOther
		return pass(queue, ReasonOtherProtocol)
	}

	if src != DNSPort && dst != DNSPort {
		return pass(queue, ReasonNotDNS)
	}
	return redirect(queue, snap)
}

func pass(queue uint32, reason Reason) Decision {
	return Decision{Verdict: Pass, Reason: reason, Queue: queue}
}

func redirect(queue uint32, snap *targets.Snapshot) Decision {
	d := Decision{Verdict: Redirect, Reason: ReasonDNS, Queue: queue}
	d.Target, d.Resolved = snap.Lookup(queue)
	return d
}
