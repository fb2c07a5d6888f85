package mqtt

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/linjuya-lu/device_airmodus_go/internal/codec"
	"github.com/linjuya-lu/device_airmodus_go/internal/model"
)

const apiVersion = "v3"

// Envelope EdgeX MessageBus 风格的通用消息外壳
type Envelope struct {
	ApiVersion    string      `json:"apiVersion"`
	ReceivedTopic string      `json:"receivedTopic,omitempty"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID,omitempty"`
	ErrorCode     int         `json:"errorCode"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

func newEnvelope(correlationID string, payload interface{}) Envelope {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		ApiVersion:    apiVersion,
		CorrelationID: correlationID,
		Payload:       payload,
		ContentType:   "application/json",
	}
}

// ChannelValue 通道值，无值时为 null
type ChannelValue struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

// ReadingPayload 一条定稿读数
type ReadingPayload struct {
	Device   string         `json:"device"`
	Type     string         `json:"type"`
	Seq      uint64         `json:"seq"`
	Time     time.Time      `json:"time"`
	Channels []ChannelValue `json:"channels"`
	Derived  []ChannelValue `json:"derived,omitempty"`
	Status   string         `json:"status,omitempty"`
	Flags    []string       `json:"flags"`
}

// StatusPayload 设备状态
type StatusPayload struct {
	Device       string    `json:"device"`
	State        string    `json:"state"`
	Since        time.Time `json:"since"`
	LastRead     time.Time `json:"lastRead"`
	Error        string    `json:"error,omitempty"`
	SerialNumber string    `json:"serialNumber,omitempty"`
	Instance     string    `json:"instance"`
}

// CommandRequest UI 发来的命令
type CommandRequest struct {
	Name  string    `json:"name"`
	Value float64   `json:"value"`
	Args  []float64 `json:"args,omitempty"`
	Raw   string    `json:"raw,omitempty"`
}

// CommandResponse 命令受理结果
type CommandResponse struct {
	Device  string `json:"device"`
	Command string `json:"command"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (c CommandRequest) command() codec.Command {
	return codec.Command{Name: c.Name, Value: c.Value, Args: c.Args, Raw: c.Raw}
}

func channelValues(cs []model.Channel) []ChannelValue {
	out := make([]ChannelValue, len(cs))
	for i, c := range cs {
		out[i].Name = c.Name
		if !math.IsNaN(c.Value) && !math.IsInf(c.Value, 0) {
			v := c.Value
			out[i].Value = &v
		}
	}
	return out
}

func readingPayload(r model.StampedReading) ReadingPayload {
	flags := r.Flags.Names()
	if flags == nil {
		flags = []string{}
	}
	return ReadingPayload{
		Device:   r.Device,
		Type:     string(r.Type),
		Seq:      r.Seq,
		Time:     r.Time,
		Channels: channelValues(r.Channels),
		Derived:  channelValues(r.Derived),
		Status:   r.Status,
		Flags:    flags,
	}
}

func statusPayload(s model.Status) StatusPayload {
	return StatusPayload{
		Device:       s.Device,
		State:        s.State.String(),
		Since:        s.Since,
		LastRead:     s.LastRead,
		Error:        s.Err,
		SerialNumber: s.SerialNumber,
		Instance:     s.Instance,
	}
}
