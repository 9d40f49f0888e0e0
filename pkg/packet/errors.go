package packet

import "errors"

var (
	ErrTruncated = errors.New("header truncated")
	ErrBadLength = errors.New("header length field invalid")
)

// Layer 解析所在的协议层
type Layer uint8

const (
	LayerEthernet Layer = iota
	LayerIPv4
	LayerUDP
	LayerTCP
	numLayers
)

// String 返回协议层名称
func (l Layer) String() string {
	switch l {
	case LayerEthernet:
		return "ethernet"
	case LayerIPv4:
		return "ipv4"
	case LayerUDP:
		return "udp"
	case LayerTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Kind 解析失败类型
type Kind uint8

const (
	KindTruncated Kind = iota // 剩余字节不足以容纳头部
	KindBadLength             // 头部长度字段小于固定头部
	numKinds
)

// ParseError 头部解析错误
type ParseError struct {
	Layer Layer
	Kind  Kind
}

func (e *ParseError) Error() string {
	return e.Layer.String() + ": " + e.Unwrap().Error()
}

// Unwrap 返回对应的哨兵错误, 便于 errors.Is 判断
func (e *ParseError) Unwrap() error {
	if e.Kind == KindBadLength {
		return ErrBadLength
	}
	return ErrTruncated
}

// 预分配的错误值, 热路径上返回错误不产生内存分配
var parseErrors = [numLayers][numKinds]ParseError{
	LayerEthernet: {{LayerEthernet, KindTruncated}, {LayerEthernet, KindBadLength}},
	LayerIPv4:     {{LayerIPv4, KindTruncated}, {LayerIPv4, KindBadLength}},
	LayerUDP:      {{LayerUDP, KindTruncated}, {LayerUDP, KindBadLength}},
	LayerTCP:      {{LayerTCP, KindTruncated}, {LayerTCP, KindBadLength}},
}

func fail(l Layer, k Kind) error {
	return &parseErrors[l][k]
}
