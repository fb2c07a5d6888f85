// Package mqtt 把采集引擎接到 MQTT：发布读数和状态，接收 UI 的命令。
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

// Source 桥接器需要的引擎接口
type Source interface {
	SubscribeReadings() (<-chan model.StampedReading, func())
	SubscribeStatus() (<-chan model.Status, func())
	Submit(device string, cmd codec.Command) error
}

// Bridge 引擎与 MQTT 之间的适配器
type Bridge struct {
	t      Transport
	src    Source
	prefix string
	lc     logger.LoggingClient
}

// NewBridge 创建桥接器；prefix 为主题前缀
func NewBridge(t Transport, src Source, prefix string, lc logger.LoggingClient) *Bridge {
	if lc == nil {
		lc = logger.NewClient("mqtt", "INFO")
	}
	return &Bridge{t: t, src: src, prefix: strings.TrimSuffix(prefix, "/"), lc: lc}
}

// ReadingTopic <prefix>/<device>/reading
func (b *Bridge) ReadingTopic(device string) string {
	return fmt.Sprintf("%s/%s/reading", b.prefix, device)
}

// StatusTopic <prefix>/<device>/status
func (b *Bridge) StatusTopic(device string) string {
	return fmt.Sprintf("%s/%s/status", b.prefix, device)
}

// ResponseTopic <prefix>/<device>/command/response
func (b *Bridge) ResponseTopic(device string) string {
	return fmt.Sprintf("%s/%s/command/response", b.prefix, device)
}

func (b *Bridge) commandFilter() string {
	return b.prefix + "/+/command"
}

// Run 转发读数和状态，直到 ctx 取消或引擎关闭订阅
func (b *Bridge) Run(ctx context.Context) error {
	readings, stopReadings := b.src.SubscribeReadings()
	defer stopReadings()
	statuses, stopStatus := b.src.SubscribeStatus()
	defer stopStatus()

	if err := b.t.Subscribe(b.commandFilter(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.commandFilter(), err)
	}
	b.lc.Infof("mqtt bridge: listening on %s", b.commandFilter())

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-readings:
			if !ok {
				return nil
			}
			b.publish(b.ReadingTopic(r.Device), "", readingPayload(r))
		case st, ok := <-statuses:
			if !ok {
				return nil
			}
			b.publish(b.StatusTopic(st.Device), "", statusPayload(st))
		}
	}
}

func (b *Bridge) publish(topic, correlationID string, payload interface{}) {
	body, err := json.Marshal(newEnvelope(correlationID, payload))
	if err != nil {
		b.lc.Errorf("mqtt bridge: marshal %s: %v", topic, err)
		return
	}
	if err := b.t.Publish(topic, body); err != nil {
		b.lc.Warnf("mqtt bridge: publish %s: %v", topic, err)
	}
}

// handleCommand 处理 <prefix>/<device>/command；负载可以是外壳或裸命令
func (b *Bridge) handleCommand(topic string, payload []byte) {
	device, ok := b.deviceOf(topic)
	if !ok {
		b.lc.Debugf("mqtt bridge: ignore topic %s", topic)
		return
	}
	req, correlationID, err := decodeCommand(payload)
	resp := CommandResponse{Device: device, Command: req.Name, Status: "OK"}
	if err == nil {
		err = b.src.Submit(device, req.command())
	}
	if err != nil {
		resp.Status, resp.Message = "ERROR", err.Error()
		b.lc.Warnf("mqtt bridge: command %q for %s: %v", req.Name, device, err)
	}
	b.publish(b.ResponseTopic(device), correlationID, resp)
}

func (b *Bridge) deviceOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}
	device, ok := strings.CutSuffix(rest, "/command")
	if !ok || device == "" || strings.Contains(device, "/") {
		return "", false
	}
	return device, true
}

func decodeCommand(payload []byte) (CommandRequest, string, error) {
	var env struct {
		CorrelationID string          `json:"correlationID"`
		Payload       json.RawMessage `json:"payload"`
	}
	var req CommandRequest
	if err := json.Unmarshal(payload, &env); err != nil {
		return req, "", fmt.Errorf("decode command: %w", err)
	}
	body := payload
	if len(env.Payload) > 0 {
		body = env.Payload
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, env.CorrelationID, fmt.Errorf("decode command: %w", err)
	}
	if req.Name == "" {
		return req, env.CorrelationID, fmt.Errorf("decode command: name is required: %w", model.ErrUnsupportedCommand)
	}
	return req, env.CorrelationID, nil
}
