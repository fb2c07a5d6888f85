// internal/model/errors.go

package model

import (
	"errors"
	"fmt"
	"time"

	edgexErr "github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// 错误分类，调用方用 errors.Is 判断
var (
	ErrConnection           = errors.New("connection error")
	ErrTimeout              = errors.New("timeout")
	ErrDisconnected         = errors.New("device disconnected")
	ErrPartialData          = errors.New("partial data")
	ErrUnrecoverableFraming = errors.New("unrecoverable framing")
	ErrLog                  = errors.New("log write error")
	ErrNotConnected         = errors.New("session not connected")
	ErrUnknownDevice        = errors.New("unknown device")
	ErrUnsupportedCommand   = errors.New("unsupported command")
)

// NewConnectionError 端口无法打开或握手失败
func NewConnectionError(device string, cause error) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindCommunicationError,
		fmt.Sprintf("device %s: port unavailable", device), errors.Join(ErrConnection, cause))
}

// NewTimeoutError 等待应答超时
func NewTimeoutError(device string, after time.Duration) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindServiceUnavailable,
		fmt.Sprintf("device %s: no response within %s", device, after), ErrTimeout)
}

// NewDisconnectedError 会话处于断线状态
func NewDisconnectedError(device string) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindServiceUnavailable,
		fmt.Sprintf("device %s is disconnected", device), ErrDisconnected)
}

// NewFramingError 解析缓冲在 n 字节内无法重新同步
func NewFramingError(device string, n int) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindContractInvalid,
		fmt.Sprintf("device %s: no frame boundary in %d bytes", device, n), ErrUnrecoverableFraming)
}

// NewLogError 日志文件写入失败，不影响采集
func NewLogError(path string, cause error) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindServerError,
		fmt.Sprintf("write %s", path), errors.Join(ErrLog, cause))
}

// NewUnknownDeviceError 引用了不存在的设备
func NewUnknownDeviceError(name string) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindEntityDoesNotExist,
		fmt.Sprintf("device %s not found", name), ErrUnknownDevice)
}

// NewCommandError 命令无法编码
func NewCommandError(device, command string) error {
	return edgexErr.NewCommonEdgeX(edgexErr.KindContractInvalid,
		fmt.Sprintf("device %s: unsupported command %q", device, command), ErrUnsupportedCommand)
}
