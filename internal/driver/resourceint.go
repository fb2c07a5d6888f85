// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// resourceInt 有符号整型只用于下发设定值，设备不上报整型通道
type resourceInt struct{}

// NewResourceInt 构造函数
func NewResourceInt() *resourceInt {
	return &resourceInt{}
}

// command 取出下发的有符号整数
func (ri *resourceInt) command(param *models.CommandValue) (float64, error) {
	var (
		v   int64
		err error
	)
	switch param.Type {
	case common.ValueTypeInt8:
		var i int8
		i, err = param.Int8Value()
		v = int64(i)
	case common.ValueTypeInt16:
		var i int16
		i, err = param.Int16Value()
		v = int64(i)
	case common.ValueTypeInt32:
		var i int32
		i, err = param.Int32Value()
		v = int64(i)
	case common.ValueTypeInt64:
		v, err = param.Int64Value()
	default:
		return 0, fmt.Errorf("resourceInt.command: unsupported type %s", param.Type)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid integer write for %s: %w", param.DeviceResourceName, err)
	}
	return float64(v), nil
}
