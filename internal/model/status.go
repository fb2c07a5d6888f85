// internal/model/status.go

package model

import "time"

// State 设备连接状态
type State int

const (
	StateDisconnected State = iota
	StateProbing
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "CONNECTED"
	case StateProbing:
		return "PROBING"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Status 单台设备的连接状态，只由持有连接的会话修改
type Status struct {
	Device       string
	State        State
	LastRead     time.Time // 最近一次成功读取
	Since        time.Time // 进入当前状态的时间
	Err          string
	SerialNumber string
	Instance     string // 会话实例 ID，重启后变化
}

// Connected 是否处于已连接状态
func (s Status) Connected() bool {
	return s.State == StateConnected
}
