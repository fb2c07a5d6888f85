package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

const crlf = "\r\n"

// request 生成以 \r\n 结尾的文本请求
func request(s string) []byte {
	return []byte(s + crlf)
}

// parseFloat 解析失败返回 NaN
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseFloats(fields []string) []float64 {
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i] = parseFloat(f)
	}
	return out
}

// splitCommand 拆成命令名和数据部分
func splitCommand(frame []byte) (cmd, data string) {
	s := strings.TrimSpace(string(frame))
	cmd, data, _ = strings.Cut(s, " ")
	return cmd, strings.TrimSpace(data)
}

// splitFields 按分隔符拆分并去掉空白
func splitFields(data, sep string) []string {
	if data == "" {
		return nil
	}
	fields := strings.Split(data, sep)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// fill 按通道名依次赋值：缺失为 NaN 并标记 partial，多出的字段放入 extra
func fill(names []string, fields []string) (channels []model.Channel, partial bool, extra []string) {
	channels = make([]model.Channel, len(names))
	for i, n := range names {
		v := math.NaN()
		if i < len(fields) {
			v = parseFloat(fields[i])
		} else {
			partial = true
		}
		channels[i] = model.Channel{Name: n, Value: v}
	}
	if len(fields) > len(names) {
		extra = append(extra, fields[len(names):]...)
	}
	return channels, partial, extra
}

// cutStatus 取出末尾的十六进制状态字。字段数不超过 channels 时视为截断帧，不取状态字；
// 末字段不是十六进制时留在 fields 中，ok 为 false
func cutStatus(fields []string, channels int) (rest []string, status string, ok bool) {
	n := len(fields)
	if n <= channels || !isHex(fields[n-1]) {
		return fields, "", false
	}
	return fields[:n-1], fields[n-1], true
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}

// invalidate 把全部通道置为 NaN
func invalidate(ch []model.Channel) {
	for i := range ch {
		ch[i].Value = math.NaN()
	}
}

func at(v []float64, i int) float64 {
	if i < 0 || i >= len(v) {
		return math.NaN()
	}
	return v[i]
}

// valueFormat 设定值的编码方式
type valueFormat int

const (
	formatNone   valueFormat = iota // 无参数
	format2dp                       // 两位小数
	format3dp                       // 三位小数（流量）
	formatInt                       // 整数
	formatSwitch                    // 0/1
	formatList                      // 逗号分隔的列表
)

// setCommand 一条命令的名字、报文前缀与参数格式
type setCommand struct {
	name   string
	prefix string
	format valueFormat
}

// commandTable 文本协议的命令表，编码与还原共用
type commandTable []setCommand

func (t commandTable) encode(device model.DeviceType, cmd Command) ([]byte, error) {
	if cmd.Name == "raw" {
		raw := strings.TrimRight(cmd.Raw, "\r\n")
		if raw == "" {
			return nil, fmt.Errorf("%s: raw command is empty: %w", device, model.ErrUnsupportedCommand)
		}
		return request(raw), nil
	}
	for _, c := range t {
		if c.name != cmd.Name {
			continue
		}
		switch c.format {
		case formatNone:
			return request(c.prefix), nil
		case format2dp:
			return request(c.prefix + " " + formatFloat(cmd.Value, 2)), nil
		case format3dp:
			return request(c.prefix + " " + formatFloat(cmd.Value, 3)), nil
		case formatInt:
			return request(c.prefix + " " + strconv.FormatInt(int64(math.Round(cmd.Value)), 10)), nil
		case formatSwitch:
			v := "0"
			if cmd.Value != 0 {
				v = "1"
			}
			return request(c.prefix + " " + v), nil
		case formatList:
			if len(cmd.Args) == 0 {
				return nil, fmt.Errorf("%s: %s needs arguments: %w", device, cmd.Name, model.ErrUnsupportedCommand)
			}
			parts := make([]string, len(cmd.Args))
			for i, a := range cmd.Args {
				parts[i] = formatFloat(a, 3)
			}
			return request(c.prefix + " " + strings.Join(parts, ",")), nil
		}
	}
	return nil, fmt.Errorf("%s: %q: %w", device, cmd.Name, model.ErrUnsupportedCommand)
}

// parse 是 encode 的逆过程，未知报文还原为 raw
func (t commandTable) parse(frame []byte) (Command, error) {
	text := strings.TrimRight(string(frame), "\r\n")
	if text == "" {
		return Command{}, fmt.Errorf("empty command: %w", model.ErrUnsupportedCommand)
	}
	prefix, arg, hasArg := strings.Cut(text, " ")
	for _, c := range t {
		if c.prefix != prefix {
			continue
		}
		switch c.format {
		case formatNone:
			if !hasArg {
				return Command{Name: c.name}, nil
			}
		case formatList:
			if hasArg {
				return Command{Name: c.name, Args: parseFloats(splitFields(arg, ","))}, nil
			}
		default:
			if hasArg {
				if v, err := strconv.ParseFloat(arg, 64); err == nil {
					return Command{Name: c.name, Value: v}, nil
				}
			}
		}
	}
	return Command{Name: "raw", Raw: text}, nil
}

func formatFloat(v float64, decimals int) string {
	p := math.Pow(10, float64(decimals))
	return strconv.FormatFloat(math.Round(v*p)/p, 'f', -1, 64)
}
