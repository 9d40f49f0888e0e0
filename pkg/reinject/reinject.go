// Package reinject 实现消费者一侧的回注标记约定
//
// 消费者处理完被重定向的帧后, 在重新发送前调用 Stamp, 使分类器在第二次
// 经过时识别并放行该帧.
package reinject

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket/layers"

	"xdp-dns-redirect/pkg/classifier"
	"xdp-dns-redirect/pkg/packet"
)

var ErrNotIPv4 = errors.New("not an IPv4 frame")

// Stamp 将回注标记写入 IPv4 标识字段并重新计算头部校验和
// 非 IPv4 或截断的帧返回错误, 帧内容保持不变
func Stamp(frame []byte) error {
	eth, rest, err := packet.ParseEthernet(packet.NewRange(frame))
	if err != nil {
		return fmt.Errorf("stamp: %w", err)
	}
	if eth.EtherType() != layers.EthernetTypeIPv4 {
		return ErrNotIPv4
	}
	ip, _, err := packet.ParseIPv4(rest)
	if err != nil {
		return fmt.Errorf("stamp: %w", err)
	}

	hdr := frame[packet.EthernetHeaderLen : packet.EthernetHeaderLen+ip.HeaderLen()]
	binary.BigEndian.PutUint16(hdr[4:6], classifier.MarkerID())
	hdr[10], hdr[11] = 0, 0
	binary.BigEndian.PutUint16(hdr[10:12], Checksum(hdr))
	return nil
}

// Checksum 计算 IPv4 头部校验和 (校验和字段需预先置零)
func Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i:]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
