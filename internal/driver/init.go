// internal/driver/init.go
package driver

import (
	"context"
	"fmt"
	"time"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"

	"github.com/linjuya-lu/device_airmodus_go/internal/config"
	"github.com/linjuya-lu/device_airmodus_go/internal/engine"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

const (
	configKey         = "AcquisitionConfig"
	defaultConfigPath = "./res/configuration.yaml"
	asyncSourceName   = "measurement"
)

// startAcquisition 负责：
//  1. 加载采集配置
//  2. 创建并启动采集引擎
//  3. 把定稿读数写入最新值缓存，并作为 AsyncValues 上报
//  4. 跟踪设备连接状态
func (d *AirmodusDriver) startAcquisition(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	eng, err := engine.New(cfg, d.lc, engine.Options{Start: time.Now()})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	readings, stopReadings := eng.SubscribeReadings()
	statuses, stopStatus := eng.SubscribeStatus()

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		cancel()
		stopReadings()
		stopStatus()
		return fmt.Errorf("start engine: %w", err)
	}
	d.engine, d.cancel = eng, cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stopReadings()
		defer stopStatus()
		d.forward(ctx, readings, statuses)
	}()
	return nil
}

func (d *AirmodusDriver) forward(ctx context.Context, readings <-chan model.StampedReading, statuses <-chan model.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-statuses:
			if !ok {
				return
			}
			d.db.ApplyStatus(st)
		case r, ok := <-readings:
			if !ok {
				return
			}
			d.db.ApplyReading(r)
			av := asyncValues(r, d.lc.Warnf)
			if av == nil || d.asyncCh == nil {
				continue
			}
			select {
			case d.asyncCh <- av:
			case <-ctx.Done():
				return
			}
		}
	}
}

// asyncValues 无值通道不上报
func asyncValues(r model.StampedReading, warnf func(string, ...interface{})) *dsModels.AsyncValues {
	origin := r.Time.UnixNano()
	tags := map[string]string{"type": string(r.Type)}
	var cvs []*dsModels.CommandValue
	add := func(name, valueType string, v interface{}) {
		cv, err := dsModels.NewCommandValue(name, valueType, v)
		if err != nil {
			warnf("%s.%s: %v", r.Device, name, err)
			return
		}
		cv.Origin = origin
		cv.Tags = tags
		cvs = append(cvs, cv)
	}
	for _, c := range r.Channels {
		if c.Valid() {
			add(c.Name, common.ValueTypeFloat64, c.Value)
		}
	}
	for _, c := range r.Derived {
		if c.Valid() {
			add(c.Name, common.ValueTypeFloat64, c.Value)
		}
	}
	if len(cvs) == 0 {
		return nil
	}
	add(resourceSequence, common.ValueTypeUint64, r.Seq)
	add(resourceFlags, common.ValueTypeString, r.Flags.String())
	return &dsModels.AsyncValues{
		DeviceName:    r.Device,
		SourceName:    asyncSourceName,
		CommandValues: cvs,
	}
}

func (d *AirmodusDriver) stopAcquisition() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	err := d.engine.Stop()
	d.wg.Wait()
	d.cancel = nil
	return err
}
