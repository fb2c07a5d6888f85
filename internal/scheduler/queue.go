package scheduler

import "time"

// item 一台设备在总线队列中的条目
type item struct {
	name     string
	due      time.Time
	interval Interval
	slots    chan *Slot
	gone     chan struct{}
	missed   uint64
	index    int
}

// queue 按截止时间排序的最小堆，同一时刻按设备名排序
type queue []*item

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].name < q[j].name
	}
	return q[i].due.Before(q[j].due)
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// plan 决定到期条目如何处理：
// 过期不超过一个周期则立即执行；否则记为错过，等待下一个时隙，不在周期中途补做
func plan(due, now time.Time, interval time.Duration) (run bool, missed int, next time.Time) {
	if interval <= 0 {
		return true, 0, now
	}
	late := now.Sub(due)
	if late <= interval {
		return true, 0, due.Add(interval)
	}
	k := int(late / interval)
	return false, k, due.Add(time.Duration(k+1) * interval)
}
