// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"strings"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// resourceString 标志位/状态的读取，以及原始命令透传（字符串或二进制）
type resourceString struct {
	db *DB
}

// NewResourceString 构造函数，传入 DB 实例
func NewResourceString(db *DB) *resourceString {
	return &resourceString{db: db}
}

func (rs *resourceString) value(deviceName, deviceResourceName string) (*models.CommandValue, error) {
	res, err := rs.db.GetResource(deviceName, deviceResourceName)
	if err != nil {
		return nil, err
	}
	cv, err := models.NewCommandValue(deviceResourceName, common.ValueTypeString, string(res.Value))
	if err != nil {
		return nil, fmt.Errorf("failed to create CommandValue: %w", err)
	}
	return cv, nil
}

// raw 取出原样写入串口的命令文本
func (rs *resourceString) raw(param *models.CommandValue) (string, error) {
	var (
		s   string
		err error
	)
	switch param.Type {
	case common.ValueTypeString:
		s, err = param.StringValue()
	case common.ValueTypeBinary:
		var b []byte
		if b, err = param.BinaryValue(); err == nil {
			s = string(b)
		}
	default:
		return "", fmt.Errorf("resourceString.raw: unsupported type %s", param.Type)
	}
	if err != nil {
		return "", fmt.Errorf("invalid raw write for %s: %w", param.DeviceResourceName, err)
	}
	return strings.TrimSpace(s), nil
}
