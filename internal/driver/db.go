package driver

import (
	"strconv"
	"strings"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// 每台设备除测量通道外固定提供的资源
const (
	resourceConnected = "connected"
	resourceSequence  = "sequence"
	resourceFlags     = "flags"
	resourceState     = "state"
	resourceHighRate  = "high_rate"
)

// Resource 存储 ASCII 形式的最新值，DataType 标记外层如何解析
type Resource struct {
	Name     string
	DataType string
	Value    []byte
}

// DB 最新值缓存：DeviceName → ResourceName → Resource
type DB struct {
	mu    sync.RWMutex
	store map[string]map[string]Resource
}

// NewDB 返回一个新建但未初始化的 DB
func NewDB() *DB {
	return &DB{
		store: make(map[string]map[string]Resource),
	}
}

// Init 清空所有数据
func (d *DB) Init() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = make(map[string]map[string]Resource)
}

// put 调用方需持有写锁
func (d *DB) put(deviceName, resourceName, dataType string, value []byte) {
	if d.store == nil {
		d.store = make(map[string]map[string]Resource)
	}
	if _, ok := d.store[deviceName]; !ok {
		d.store[deviceName] = make(map[string]Resource)
	}
	d.store[deviceName][resourceName] = Resource{
		Name:     resourceName,
		DataType: dataType,
		Value:    value,
	}
}

// ApplyReading 用一条定稿读数覆盖通道、派生量、序号和标志
func (d *DB) ApplyReading(r model.StampedReading) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range r.Channels {
		d.put(r.Device, c.Name, common.ValueTypeFloat64, []byte(strconv.FormatFloat(c.Value, 'g', -1, 64)))
	}
	for _, c := range r.Derived {
		d.put(r.Device, c.Name, common.ValueTypeFloat64, []byte(strconv.FormatFloat(c.Value, 'g', -1, 64)))
	}
	if r.HighRate != nil {
		samples := make([]string, len(r.HighRate))
		for i, v := range r.HighRate {
			samples[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		d.put(r.Device, resourceHighRate, common.ValueTypeFloat64Array, []byte(strings.Join(samples, ",")))
	}
	d.put(r.Device, resourceSequence, common.ValueTypeUint64, []byte(strconv.FormatUint(r.Seq, 10)))
	d.put(r.Device, resourceFlags, common.ValueTypeString, []byte(r.Flags.String()))
}

// ApplyStatus 记录连接状态
func (d *DB) ApplyStatus(st model.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.put(st.Device, resourceConnected, common.ValueTypeBool, []byte(strconv.FormatBool(st.Connected())))
	d.put(st.Device, resourceState, common.ValueTypeString, []byte(st.State.String()))
}

// GetResource 获取指定设备某个资源的当前值和类型
func (d *DB) GetResource(
	deviceName string,
	resourceName string,
) (Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	devMap, devOk := d.store[deviceName]
	if !devOk {
		return Resource{}, errors.NewCommonEdgeX(
			errors.KindEntityDoesNotExist,
			"device "+deviceName+" has no values yet",
			nil,
		)
	}
	res, resOk := devMap[resourceName]
	if !resOk {
		return Resource{}, errors.NewCommonEdgeX(
			errors.KindEntityDoesNotExist,
			"resource "+resourceName+" not found",
			nil,
		)
	}
	res.Value = append([]byte(nil), res.Value...)
	return res, nil
}

// DeleteDevice 删除整个设备及其所有资源
func (d *DB) DeleteDevice(deviceName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.store, deviceName)
}

// Close 清理底层存储
func (d *DB) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store = nil
}
