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

// resourceFloat 测量通道与浮点设定值
type resourceFloat struct {
	db *DB
}

// NewResourceFloat 构造函数，传入 DB 实例
func NewResourceFloat(db *DB) *resourceFloat {
	return &resourceFloat{db: db}
}

// value 从 DB 中取通道最新值，按 dataType 封装成 CommandValue；无值通道为 NaN
func (rf *resourceFloat) value(
	deviceName, deviceResourceName, dataType string,
) (*models.CommandValue, error) {
	res, err := rf.db.GetResource(deviceName, deviceResourceName)
	if err != nil {
		return nil, err
	}

	strVal := string(res.Value)
	f, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float from %q: %w", strVal, err)
	}
	var cv *models.CommandValue
	switch dataType {
	case common.ValueTypeFloat32:
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeFloat32, float32(f))
	case common.ValueTypeFloat64:
		cv, err = models.NewCommandValue(deviceResourceName, common.ValueTypeFloat64, f)
	default:
		return nil, fmt.Errorf("unsupported float dataType: %s", dataType)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s CommandValue: %w", dataType, err)
	}
	return cv, nil
}

// command 取出下发的浮点设定值
func (rf *resourceFloat) command(param *models.CommandValue) (float64, error) {
	switch param.Type {
	case common.ValueTypeFloat32:
		v, err := param.Float32Value()
		return float64(v), err
	case common.ValueTypeFloat64:
		return param.Float64Value()
	default:
		return 0, fmt.Errorf("resourceFloat.command: unsupported type %s", param.Type)
	}
}
