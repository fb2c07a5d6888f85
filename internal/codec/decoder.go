package codec

import (
	"errors"
	"fmt"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

// Decoder 带上限的解析缓冲，逐帧交给 Codec 解码
type Decoder struct {
	codec       Codec
	framer      serial.FrameParser
	buf         []byte
	max         int // 缓冲上限
	resyncLimit int // 连续丢弃多少字节后判定无法同步
	skipped     int // 自上一个完整帧以来丢弃的字节数
}

// NewDecoder 创建解码器，bufSize/resyncLimit 不大于 0 时使用默认值
func NewDecoder(c Codec, bufSize, resyncLimit int) *Decoder {
	if bufSize <= 0 {
		bufSize = 2048
	}
	if resyncLimit <= 0 {
		resyncLimit = 4096
	}
	return &Decoder{
		codec:       c,
		framer:      c.Framer(),
		buf:         make([]byte, 0, bufSize),
		max:         bufSize,
		resyncLimit: resyncLimit,
	}
}

// Feed 追加收到的字节；溢出时丢弃最旧的数据
func (d *Decoder) Feed(p []byte) error {
	d.buf = append(d.buf, p...)
	if over := len(d.buf) - d.max; over > 0 {
		d.skipped += over
		d.buf = append(d.buf[:0], d.buf[over:]...)
	}
	return d.check()
}

// Next 取出下一条消息；缓冲中没有完整帧时返回 ErrIncompleteFrame
func (d *Decoder) Next() (Message, error) {
	for {
		if len(d.buf) == 0 {
			return Message{}, ErrIncompleteFrame
		}
		frame, rest, err := d.framer(d.buf)
		consumed := len(d.buf) - len(rest)
		if err != nil {
			if !errors.Is(err, serial.ErrInvalidFrame) {
				return Message{}, err
			}
			// 丢掉起始字节，在后面重新找帧头
			if len(rest) > 0 {
				rest = rest[1:]
				consumed++
			}
			d.skipped += consumed
			d.compact(rest)
			if err := d.check(); err != nil {
				return Message{}, err
			}
			continue
		}
		if frame == nil {
			d.skipped += consumed
			d.compact(rest)
			if err := d.check(); err != nil {
				return Message{}, err
			}
			return Message{}, ErrIncompleteFrame
		}
		d.skipped = 0
		msg, derr := d.codec.Decode(frame)
		d.compact(rest)
		return msg, derr
	}
}

// Buffered 缓冲中尚未解析的字节数
func (d *Decoder) Buffered() int { return len(d.buf) }

// Reset 丢弃缓冲，重新同步
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.skipped = 0
}

func (d *Decoder) compact(rest []byte) {
	d.buf = append(d.buf[:0], rest...)
}

func (d *Decoder) check() error {
	if d.skipped < d.resyncLimit {
		return nil
	}
	n := d.skipped
	d.Reset()
	return fmt.Errorf("%w: %d bytes without a frame boundary", model.ErrUnrecoverableFraming, n)
}
