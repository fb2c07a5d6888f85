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

// resourceBool connected 状态与开关类命令（drain、autofill 等）
type resourceBool struct {
	db *DB
}

// NewResourceBool 构造函数，传入 DB 实例
func NewResourceBool(db *DB) *resourceBool {
	return &resourceBool{db: db}
}

// value 从 DB 中获取 ASCII "true"/"false"，封装成 CommandValue
func (rb *resourceBool) value(deviceName, deviceResourceName string) (*models.CommandValue, error) {
	res, err := rb.db.GetResource(deviceName, deviceResourceName)
	if err != nil {
		return nil, err
	}

	strVal := string(res.Value)
	b, err := strconv.ParseBool(strVal)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bool from %q: %w", strVal, err)
	}

	cv, err := models.NewCommandValue(deviceResourceName, common.ValueTypeBool, b)
	if err != nil {
		return nil, fmt.Errorf("creating CommandValue: %w", err)
	}
	return cv, nil
}

// command 开关量编码为 0/1
func (rb *resourceBool) command(param *models.CommandValue) (float64, error) {
	b, err := param.BoolValue()
	if err != nil {
		return 0, fmt.Errorf("invalid bool write for %s: %w", param.DeviceResourceName, err)
	}
	if b {
		return 1, nil
	}
	return 0, nil
}
