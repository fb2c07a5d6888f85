// Package timestamp 为读数分配单调递增的时间戳，并计算按日切分的边界。
package timestamp

import (
	"sync"
	"time"
)

// DefaultResolution 日志文件中的时间精度
const DefaultResolution = time.Millisecond

// Synchronizer 每台设备的时间戳严格递增
type Synchronizer struct {
	mu   sync.Mutex
	res  time.Duration
	last map[string]time.Time
}

// New 创建同步器，resolution 不大于 0 时使用毫秒
func New(resolution time.Duration) *Synchronizer {
	if resolution <= 0 {
		resolution = DefaultResolution
	}
	return &Synchronizer{res: resolution, last: make(map[string]time.Time)}
}

// Stamp 按精度截断 t；若不晚于该设备上一个时间戳，则推进一个精度单位
func (s *Synchronizer) Stamp(device string, t time.Time) time.Time {
	ts := t.Truncate(s.res)
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[device]; ok && !ts.After(prev) {
		ts = prev.Add(s.res)
	}
	s.last[device] = ts
	return ts
}

// Last 返回设备最近一次的时间戳
func (s *Synchronizer) Last(device string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[device]
	return t, ok
}

// Forget 设备移除后丢弃其状态
func (s *Synchronizer) Forget(device string) {
	s.mu.Lock()
	delete(s.last, device)
	s.mu.Unlock()
}

// DayStart 返回 t 所在日的本地零点
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// NextMidnight 返回 t 之后的第一个本地零点，按日历计算以兼容夏令时
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}

// DayKey 日期键，形如 20240131
func DayKey(t time.Time) string {
	return t.Format("20060102")
}
