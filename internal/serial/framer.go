package serial

import (
	"bytes"
	"errors"
	"fmt"
)

// FrameParser 定义了一个从字节流中提取完整帧的函数类型。
// 它返回：
//   - frame: 抽取出的完整帧（若数据不足以组成完整帧则返回 nil）
//   - rest: 余下未处理的字节（用于下一次解析时继续累积）
//   - err:  帧头非法时返回 ErrInvalidFrame，调用方丢弃 rest 的首字节后重试
type FrameParser func(buf []byte) (frame []byte, rest []byte, err error)

// ErrInvalidFrame 起始字节之后的帧头或校验不合法
var ErrInvalidFrame = errors.New("invalid frame")

// Delimited 以分隔符结尾的文本帧，返回的帧不含分隔符，空帧被跳过
func Delimited(delim []byte) FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		for {
			i := bytes.Index(buf, delim)
			if i < 0 {
				// 尚未找到帧尾，保留全部数据
				return nil, buf, nil
			}
			frame := buf[:i]
			buf = buf[i+len(delim):]
			if len(bytes.TrimSpace(frame)) == 0 {
				continue
			}
			return frame, buf, nil
		}
	}
}

// FixedWidth 定长帧：start 开头、end 结尾，总长 size 字节
func FixedWidth(start, end byte, size int) FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		i := bytes.IndexByte(buf, start)
		if i < 0 {
			// 无帧头，丢弃杂散数据
			return nil, nil, nil
		}
		buf = buf[i:]
		if len(buf) < size {
			return nil, buf, nil
		}
		if buf[size-1] != end {
			return nil, buf, fmt.Errorf("%w: end byte 0x%02X", ErrInvalidFrame, buf[size-1])
		}
		return buf[:size], buf[size:], nil
	}
}

// LengthPrefixed 可变长帧：start L L start | 数据 | CS end，CS 为数据字节累加和
func LengthPrefixed(start, end byte) FrameParser {
	return func(buf []byte) ([]byte, []byte, error) {
		i := bytes.IndexByte(buf, start)
		if i < 0 {
			return nil, nil, nil
		}
		buf = buf[i:]
		if len(buf) < 4 {
			// 数据不足以解析长度
			return nil, buf, nil
		}
		length := int(buf[1])
		if buf[2] != buf[1] || buf[3] != start {
			return nil, buf, fmt.Errorf("%w: header % X", ErrInvalidFrame, buf[:4])
		}
		total := 4 + length + 2 // 4 字节头 + 数据 + 校验 + 帧尾
		if len(buf) < total {
			// 未读完一帧
			return nil, buf, nil
		}
		payload := buf[4 : 4+length]
		if cs := checksum(payload); buf[4+length] != cs {
			return nil, buf, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrInvalidFrame, buf[4+length], cs)
		}
		if buf[total-1] != end {
			return nil, buf, fmt.Errorf("%w: end byte 0x%02X", ErrInvalidFrame, buf[total-1])
		}
		return buf[:total], buf[total:], nil
	}
}

// BuildLengthPrefixed 组装可变长帧
func BuildLengthPrefixed(start, end byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("payload too long: %d bytes", len(payload))
	}
	l := byte(len(payload))
	frame := make([]byte, 0, len(payload)+6)
	frame = append(frame, start, l, l, start)
	frame = append(frame, payload...)
	frame = append(frame, checksum(payload), end)
	return frame, nil
}

// LengthPrefixedPayload 取出可变长帧中的数据部分
func LengthPrefixedPayload(frame []byte) []byte {
	if len(frame) < 6 {
		return nil
	}
	return frame[4 : len(frame)-2]
}

func checksum(p []byte) byte {
	var cs byte
	for _, b := range p {
		cs += b
	}
	return cs
}
