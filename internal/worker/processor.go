package worker

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"xdp-dns-redirect/internal/capture"
	"xdp-dns-redirect/pkg/classifier"
	"xdp-dns-redirect/pkg/mirror"
	"xdp-dns-redirect/pkg/packet"
)

var (
	ErrNoPayload  = errors.New("no DNS payload")
	ErrNoQuestion = errors.New("DNS message has no question")
)

// process 单帧处理: 先镜像, 再分类
// 同一帧的两步使用同一份快照
func (p *Pool) process(frame capture.Frame) {
	snap := p.options.Store.Load()

	res := mirror.Mirror(frame.Data, snap, p.options.Cloner)
	p.options.Metrics.ObserveMirror(res)
	if res.Err != nil {
		p.log.WithError(res.Err).WithField("ifindex", res.Ifindex).Debug("mirror clone failed")
	}

	d := classifier.Classify(frame.Data, frame.Queue, snap)
	p.options.Metrics.ObserveDecision(d)
	if d.Verdict == classifier.Redirect {
		p.redirect(frame, d)
	}

	if p.options.OnDecision != nil {
		p.options.OnDecision(frame, d)
	}
}

// redirect 将帧交给队列对应的消费者
// 没有表项时按内核语义回落到正常路径, 这里只计数
func (p *Pool) redirect(frame capture.Frame, d classifier.Decision) {
	log := p.log.WithFields(logrus.Fields{
		"queue":  d.Queue,
		"reason": d.Reason,
	})
	if p.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		if desc, err := Describe(frame.Data); err == nil {
			log = log.WithField("dns", desc)
		}
	}

	if !d.Resolved {
		log.Debug("no redirect target for queue")
		return
	}
	if p.options.Hub == nil {
		log.WithField("socket", d.Target).Debug("redirected")
		return
	}
	if err := p.options.Hub.Deliver(d.Target, frame.Data); err != nil {
		p.options.Metrics.IncRedirectDropped()
		log.WithError(err).WithField("socket", d.Target).Debug("redirect dropped")
		return
	}
	log.WithField("socket", d.Target).Debug("redirected")
}

// Describe 解码帧中的 DNS 消息, 返回一行摘要
// 形如 "query example.com. A id=4660"
func Describe(frame []byte) (string, error) {
	payload, err := dnsPayload(frame)
	if err != nil {
		return "", err
	}

	var msg dns.Msg
	if err := msg.Unpack(payload); err != nil {
		return "", fmt.Errorf("unpack dns: %w", err)
	}
	if len(msg.Question) == 0 {
		return "", ErrNoQuestion
	}

	kind := "query"
	if msg.Response {
		kind = "response"
	}
	q := msg.Question[0]
	return fmt.Sprintf("%s %s %s id=%d", kind, q.Name, dns.TypeToString[q.Qtype], msg.Id), nil
}

// dnsPayload 提取 L4 负载; TCP 负载带 2 字节长度前缀
func dnsPayload(frame []byte) ([]byte, error) {
	eth, rest, err := packet.ParseEthernet(packet.NewRange(frame))
	if err != nil {
		return nil, err
	}
	if eth.EtherType() != layers.EthernetTypeIPv4 {
		return nil, ErrNoPayload
	}
	ip, rest, err := packet.ParseIPv4(rest)
	if err != nil {
		return nil, err
	}

	switch ip.Protocol() {
	case layers.IPProtocolUDP:
		udp, rest, err := packet.ParseUDP(rest)
		if err != nil {
			return nil, err
		}
		b := rest.Bytes()
		// 以太网最小帧填充不属于负载
		if n := int(udp.Length()) - packet.UDPHeaderLen; n >= 0 && n < len(b) {
			b = b[:n]
		}
		if len(b) == 0 {
			return nil, ErrNoPayload
		}
		return b, nil

	case layers.IPProtocolTCP:
		_, rest, err := packet.ParseTCP(rest)
		if err != nil {
			return nil, err
		}
		b := rest.Bytes()
		if len(b) < 2 {
			return nil, ErrNoPayload
		}
		n := int(binary.BigEndian.Uint16(b[:2]))
		if n == 0 || n > len(b)-2 {
			return nil, ErrNoPayload
		}
		return b[2 : 2+n], nil
	}
	return nil, ErrNoPayload
}
