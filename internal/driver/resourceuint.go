// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"strconv"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// resourceUint 读数序号与无符号整型设定值
type resourceUint struct {
	db *DB
}

// NewResourceUint 构造函数，传入 DB 实例
func NewResourceUint(db *DB) *resourceUint {
	return &resourceUint{db: db}
}

// value 从 DB 中获取 ASCII 数字，解析为对应位宽并封装成 CommandValue
func (ru *resourceUint) value(
	deviceName, deviceResourceName, dataType string,
) (*models.CommandValue, error) {
	res, err := ru.db.GetResource(deviceName, deviceResourceName)
	if err != nil {
		return nil, err
	}

	strVal := string(res.Value)
	var cv *models.CommandValue

	switch dataType {
	case common.ValueTypeUint8:
		v, err := strconv.ParseUint(strVal, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("parse uint8 from %q: %w", strVal, err)
		}
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeUint8, uint8(v))
	case common.ValueTypeUint16:
		v, err := strconv.ParseUint(strVal, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("parse uint16 from %q: %w", strVal, err)
		}
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeUint16, uint16(v))
	case common.ValueTypeUint32:
		v, err := strconv.ParseUint(strVal, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse uint32 from %q: %w", strVal, err)
		}
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeUint32, uint32(v))
	case common.ValueTypeUint64:
		v, err := strconv.ParseUint(strVal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse uint64 from %q: %w", strVal, err)
		}
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeUint64, v)
	default:
		return nil, fmt.Errorf("unsupported unsigned integer dataType: %s", dataType)
	}

	if err != nil {
		return nil, fmt.Errorf("creating Uint CommandValue: %w", err)
	}
	return cv, nil
}

// command 取出下发的无符号整数（平均时间、阈值等）
func (ru *resourceUint) command(param *models.CommandValue) (float64, error) {
	var (
		v   uint64
		err error
	)
	switch param.Type {
	case common.ValueTypeUint8:
		var u uint8
		u, err = param.Uint8Value()
		v = uint64(u)
	case common.ValueTypeUint16:
		var u uint16
		u, err = param.Uint16Value()
		v = uint64(u)
	case common.ValueTypeUint32:
		var u uint32
		u, err = param.Uint32Value()
		v = uint64(u)
	case common.ValueTypeUint64:
		v, err = param.Uint64Value()
	default:
		return 0, fmt.Errorf("resourceUint.command: unsupported type %s", param.Type)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid uint write for %s: %w", param.DeviceResourceName, err)
	}
	return float64(v), nil
}
