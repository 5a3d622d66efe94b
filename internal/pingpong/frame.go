// Package pingpong 基于共享流的请求/应答演示协议
//
// 帧固定 8 字节：4 字节魔数（PING / PONG）+ 大端 uint32 序号。
// 客户端用一个克隆句柄写请求、另一个克隆句柄读应答；
// 服务端对每个 PING 回复同序号的 PONG。
package pingpong

import (
	"encoding/binary"
	"io"

	coreerrors "sharedstream/internal/core/errors"
)

// FrameSize 帧长度
const FrameSize = 8

// Kind 帧类型
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
)

var (
	magicPing = [4]byte{'P', 'I', 'N', 'G'}
	magicPong = [4]byte{'P', 'O', 'N', 'G'}
)

func (k Kind) String() string {
	switch k {
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// Frame 协议帧
type Frame struct {
	Kind Kind
	Seq  uint32
}

// AppendFrame 将帧编码追加到 dst
func AppendFrame(dst []byte, f Frame) ([]byte, error) {
	switch f.Kind {
	case KindPing:
		dst = append(dst, magicPing[:]...)
	case KindPong:
		dst = append(dst, magicPong[:]...)
	default:
		return dst, coreerrors.Newf(coreerrors.CodeProtocolError, "unknown frame kind %d", f.Kind)
	}
	return binary.BigEndian.AppendUint32(dst, f.Seq), nil
}

// EncodeFrame 编码一帧
func EncodeFrame(f Frame) ([]byte, error) {
	return AppendFrame(make([]byte, 0, FrameSize), f)
}

// DecodeFrame 解码恰好 FrameSize 字节
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid frame length %d", len(b))
	}

	var f Frame
	switch [4]byte(b[:4]) {
	case magicPing:
		f.Kind = KindPing
	case magicPong:
		f.Kind = KindPong
	default:
		return Frame{}, coreerrors.Newf(coreerrors.CodeProtocolError, "invalid frame magic %q", b[:4])
	}
	f.Seq = binary.BigEndian.Uint32(b[4:])
	return f, nil
}

// WriteFrame 写入一帧，短写时继续写剩余部分
func WriteFrame(w io.Writer, f Frame) error {
	buf, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}

// ReadFrame 读取一帧
func ReadFrame(r io.Reader) (Frame, error) {
	var buf [FrameSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Frame{}, err
	}
	return DecodeFrame(buf[:])
}
