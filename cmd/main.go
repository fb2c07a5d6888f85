// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/edgexfoundry/device-sdk-go/v4/pkg/startup"

	device_airmodus "github.com/linjuya-lu/device_airmodus_go"
	"github.com/linjuya-lu/device_airmodus_go/internal/driver"
)

const (
	serviceName string = "device-airmodus"
)

func main() {
	d := driver.NewAirmodusDeviceDriver()
	startup.Bootstrap(serviceName, device_airmodus.Version, d)
}
