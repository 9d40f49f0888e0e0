// Package packet 提供以太网 → IPv4 → UDP/TCP 的有界头部解析
//
// 每一步解析接收一个 Range, 返回头部视图和剩余的 Range, 或者返回 *ParseError.
// 头部视图只会在完整落在 Range 内时构造, 任何越界都表现为错误而不是越界读.
package packet

// Range 有界字节区间, 携带自身的剩余长度
type Range struct {
	b []byte
}

// NewRange 以整个帧创建区间
func NewRange(frame []byte) Range {
	return Range{b: frame}
}

// Len 剩余字节数
func (r Range) Len() int {
	return len(r.b)
}

// Bytes 剩余字节 (只读)
func (r Range) Bytes() []byte {
	return r.b
}

// take 切出前 n 字节作为头部, 返回其后的剩余区间
func (r Range) take(n int) ([]byte, Range, bool) {
	if n < 0 || n > len(r.b) {
		return nil, r, false
	}
	return r.b[:n:n], Range{b: r.b[n:]}, true
}
