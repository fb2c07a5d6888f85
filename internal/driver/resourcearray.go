// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package driver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// resourceArray 10 Hz 样本的读取，以及带参数列表的命令（如 PSM 扫描）
type resourceArray struct {
	db *DB
}

// NewResourceArray 构造函数，传入 DB 实例
func NewResourceArray(db *DB) *resourceArray {
	return &resourceArray{db: db}
}

// value 从 DB 中获取逗号分隔的 ASCII 样本，封装成浮点数组
func (ra *resourceArray) value(
	deviceName, deviceResourceName, dataType string,
) (*models.CommandValue, error) {
	res, err := ra.db.GetResource(deviceName, deviceResourceName)
	if err != nil {
		return nil, err
	}
	var fields []string
	if len(res.Value) > 0 {
		fields = strings.Split(string(res.Value), ",")
	}
	switch dataType {
	case common.ValueTypeFloat32Array:
		arr := make([]float32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("parse float32 array item %q: %w", f, err)
			}
			arr[i] = float32(v)
		}
		return models.NewCommandValue(deviceResourceName, common.ValueTypeFloat32Array, arr)
	case common.ValueTypeFloat64Array:
		arr := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float64 array item %q: %w", f, err)
			}
			arr[i] = v
		}
		return models.NewCommandValue(deviceResourceName, common.ValueTypeFloat64Array, arr)
	default:
		return nil, fmt.Errorf("unsupported array dataType: %s", dataType)
	}
}

// args 把数组参数转成命令的参数列表
func (ra *resourceArray) args(param *models.CommandValue) ([]float64, error) {
	var (
		out []float64
		err error
	)
	switch param.Type {
	case common.ValueTypeFloat32Array:
		var arr []float32
		if arr, err = param.Float32ArrayValue(); err == nil {
			out = widen(arr)
		}
	case common.ValueTypeFloat64Array:
		out, err = param.Float64ArrayValue()
	case common.ValueTypeInt8Array:
		var arr []int8
		if arr, err = param.Int8ArrayValue(); err == nil {
			out = widen(arr)
		}
	case common.ValueTypeInt16Array:
		var arr []int16
		if arr, err = param.Int16ArrayValue(); err == nil {
			out = widen(arr)
		}
	case common.ValueTypeInt32Array:
		var arr []int32
		if arr, err = param.Int32ArrayValue(); err == nil {
			out = widen(arr)
		}
	case common.ValueTypeInt64Array:
		var arr []int64
		if arr, err = param.Int64ArrayValue(); err == nil {
			out = widen(arr)
		}
	default:
		return nil, fmt.Errorf("resourceArray.args: unsupported type %s", param.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid array write for %s: %w", param.DeviceResourceName, err)
	}
	return out, nil
}

func widen[T float32 | int8 | int16 | int32 | int64](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
