// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// airmodus-logger 不依赖 EdgeX 的独立采集程序：读配置、采集、写数据文件，
// 可选地桥接到 MQTT 并暴露 Prometheus 指标。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/linjuya-lu/device_airmodus_go/internal/config"
	"github.com/linjuya-lu/device_airmodus_go/internal/engine"
	"github.com/linjuya-lu/device_airmodus_go/internal/metrics"
	"github.com/linjuya-lu/device_airmodus_go/internal/mqtt"
	"github.com/linjuya-lu/device_airmodus_go/internal/serial"
)

const serviceName = "airmodus-logger"

func main() {
	cfgPath := flag.String("config", "./res/configuration.yaml", "acquisition configuration file")
	level := flag.String("log-level", "INFO", "TRACE, DEBUG, INFO, WARN or ERROR")
	listPorts := flag.Bool("list-ports", false, "print the serial ports found on this host and exit")
	flag.Parse()

	if *listPorts {
		if err := printPorts(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	lc := logger.NewClient(serviceName, *level)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, *cfgPath, lc); err != nil {
		lc.Errorf("%s: %v", serviceName, err)
		os.Exit(1)
	}
}

func printPorts() error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func run(ctx context.Context, path string, lc logger.LoggingClient) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	met, err := metrics.New(reg)
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, lc, engine.Options{Metrics: met, Start: time.Now()})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if err := eng.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(mqtt.ClientOptions{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			KeepAlive:      time.Duration(cfg.MQTT.KeepAliveSec) * time.Second,
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeoutSec) * time.Second,
			Qos:            byte(cfg.MQTT.Qos),
		})
		if err != nil {
			return errors.Join(err, eng.Stop())
		}
		bridge := mqtt.NewBridge(client, eng, cfg.MQTT.TopicPrefix, lc)
		g.Go(func() error {
			defer client.Disconnect()
			return bridge.Run(ctx)
		})
	}

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", met.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			lc.Infof("metrics listening on %s", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	lc.Infof("%s started with %d devices", serviceName, len(eng.Descriptors()))
	err = g.Wait()
	return errors.Join(err, eng.Stop())
}
