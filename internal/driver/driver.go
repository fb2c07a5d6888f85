// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface.
package driver

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/engine"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

type AirmodusDriver struct {
	lc      logger.LoggingClient
	asyncCh chan<- *dsModels.AsyncValues
	locker  sync.Mutex
	sdk     interfaces.DeviceServiceSDK

	db     *DB
	engine *engine.Engine
	cancel context.CancelFunc
	wg     sync.WaitGroup

	floats *resourceFloat
	bools  *resourceBool
	uints  *resourceUint
	ints   *resourceInt
	arrays *resourceArray
	strs   *resourceString
}

var once sync.Once
var driver *AirmodusDriver

func NewAirmodusDeviceDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = new(AirmodusDriver)
	})
	return driver
}

// setup 供 Initialize 与测试共用
func (d *AirmodusDriver) setup(lc logger.LoggingClient, asyncCh chan<- *dsModels.AsyncValues) {
	d.lc = lc
	d.asyncCh = asyncCh
	d.db = NewDB()
	d.floats = NewResourceFloat(d.db)
	d.bools = NewResourceBool(d.db)
	d.uints = NewResourceUint(d.db)
	d.ints = NewResourceInt()
	d.arrays = NewResourceArray(d.db)
	d.strs = NewResourceString(d.db)
}

func (d *AirmodusDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.setup(sdk.LoggingClient(), sdk.AsyncValuesChannel())

	path := sdk.DriverConfigs()[configKey]
	if path == "" {
		path = defaultConfigPath
	}
	if err := d.startAcquisition(path); err != nil {
		return fmt.Errorf("初始化采集引擎失败: %w", err)
	}
	return nil
}

func (d *AirmodusDriver) Start() error {
	d.lc.Infof("Airmodus 采集服务已启动，设备 %d 台", len(d.engine.Descriptors()))
	return nil
}

func (d *AirmodusDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	d.locker.Lock()
	defer d.locker.Unlock()

	res := make([]*dsModels.CommandValue, 0, len(reqs))
	for _, req := range reqs {
		cv, err := d.readValue(deviceName, req)
		if err != nil {
			return nil, errors.NewCommonEdgeX(errors.Kind(err),
				fmt.Sprintf("读取 %s.%s 失败", deviceName, req.DeviceResourceName), err)
		}
		res = append(res, cv)
		d.lc.Debugf("读取值: %s.%s = %s", deviceName, req.DeviceResourceName, cv.ValueToString())
	}
	return res, nil
}

func (d *AirmodusDriver) readValue(deviceName string, req dsModels.CommandRequest) (*dsModels.CommandValue, error) {
	switch req.Type {
	case common.ValueTypeFloat32, common.ValueTypeFloat64:
		return d.floats.value(deviceName, req.DeviceResourceName, req.Type)
	case common.ValueTypeBool:
		return d.bools.value(deviceName, req.DeviceResourceName)
	case common.ValueTypeUint8, common.ValueTypeUint16, common.ValueTypeUint32, common.ValueTypeUint64:
		return d.uints.value(deviceName, req.DeviceResourceName, req.Type)
	case common.ValueTypeString:
		return d.strs.value(deviceName, req.DeviceResourceName)
	case common.ValueTypeFloat32Array, common.ValueTypeFloat64Array:
		return d.arrays.value(deviceName, req.DeviceResourceName, req.Type)
	default:
		return nil, errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("unsupported value type %s", req.Type), nil)
	}
}

func (d *AirmodusDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	if len(params) != len(reqs) {
		return errors.NewCommonEdgeX(errors.KindContractInvalid,
			fmt.Sprintf("%d requests but %d values", len(reqs), len(params)), nil)
	}
	for i, req := range reqs {
		cmd, err := d.command(req, params[i])
		if err != nil {
			return errors.NewCommonEdgeX(errors.KindContractInvalid,
				fmt.Sprintf("写入 %s.%s 失败", deviceName, req.DeviceResourceName), err)
		}
		if err := d.engine.Submit(deviceName, cmd); err != nil {
			return err
		}
		d.lc.Infof("写入值: %s.%s = %s", deviceName, cmd.Name, params[i].ValueToString())
	}
	return nil
}

// command 资源名即命令名，可用属性 command 覆盖；字符串和二进制值按原始命令透传
func (d *AirmodusDriver) command(req dsModels.CommandRequest, param *dsModels.CommandValue) (codec.Command, error) {
	cmd := codec.Command{Name: req.DeviceResourceName}
	if v, ok := req.Attributes["command"]; ok {
		cmd.Name = fmt.Sprint(v)
	}
	var err error
	switch param.Type {
	case common.ValueTypeFloat32, common.ValueTypeFloat64:
		cmd.Value, err = d.floats.command(param)
	case common.ValueTypeBool:
		cmd.Value, err = d.bools.command(param)
	case common.ValueTypeUint8, common.ValueTypeUint16, common.ValueTypeUint32, common.ValueTypeUint64:
		cmd.Value, err = d.uints.command(param)
	case common.ValueTypeInt8, common.ValueTypeInt16, common.ValueTypeInt32, common.ValueTypeInt64:
		cmd.Value, err = d.ints.command(param)
	case common.ValueTypeFloat32Array, common.ValueTypeFloat64Array,
		common.ValueTypeInt8Array, common.ValueTypeInt16Array, common.ValueTypeInt32Array, common.ValueTypeInt64Array:
		cmd.Args, err = d.arrays.args(param)
	case common.ValueTypeString, common.ValueTypeBinary:
		cmd.Name = "raw"
		cmd.Raw, err = d.strs.raw(param)
	default:
		err = fmt.Errorf("unsupported value type %s", param.Type)
	}
	return cmd, err
}

func (d *AirmodusDriver) Stop(force bool) error {
	d.lc.Info("AirmodusDriver.Stop: acquisition engine is stopping...")
	return d.stopAcquisition()
}

func (d *AirmodusDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	if d.known(deviceName) {
		d.lc.Debugf("device %s is already configured", deviceName)
		return nil
	}
	if adminState == models.Locked {
		d.lc.Debugf("device %s is locked, not polling", deviceName)
		return nil
	}
	desc, err := descriptorFromProtocols(deviceName, protocols)
	if err != nil {
		return err
	}
	if err := d.engine.AddDevice(desc); err != nil {
		return errors.NewCommonEdgeX(errors.KindServerError, fmt.Sprintf("add device %s", deviceName), err)
	}
	d.lc.Infof("a new Device is added: %s (%s on %s)", deviceName, desc.Type, desc.Port)
	return nil
}

func (d *AirmodusDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	if err := d.RemoveDevice(deviceName, protocols); err != nil {
		return err
	}
	d.lc.Debugf("Device %s is updated", deviceName)
	return d.AddDevice(deviceName, protocols, adminState)
}

func (d *AirmodusDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	err := d.engine.RemoveDevice(deviceName)
	d.db.DeleteDevice(deviceName)
	if err != nil && !stdErrors.Is(err, model.ErrUnknownDevice) {
		return err
	}
	d.lc.Debugf("Device %s is removed", deviceName)
	return nil
}

func (d *AirmodusDriver) known(name string) bool {
	for _, desc := range d.engine.Descriptors() {
		if desc.Name == name {
			return true
		}
	}
	return false
}

// Discover 列出主机上的串口供配置设备时参考
func (d *AirmodusDriver) Discover() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return errors.NewCommonEdgeX(errors.KindServerError, "discover serial ports", err)
	}
	for _, p := range ports {
		d.lc.Infof("serial port found: %s", p)
	}
	d.lc.Infof("discovery finished, %d serial ports", len(ports))
	return nil
}

func (d *AirmodusDriver) ValidateDevice(device models.Device) error {
	_, err := descriptorFromProtocols(device.Name, device.Protocols)
	return err
}
