package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ClientOptions 配置 MQTT 客户端行为
// Broker: tcp://host:port
// ClientID: 客户端标识
// Username/Password: 可选认证
// KeepAlive: 心跳间隔
// ConnectTimeout: 连接超时
// Qos/Retain: 发布参数
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	Qos            byte
	Retain         bool
}

// Transport 桥接器依赖的最小发布/订阅接口
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Disconnect()
}

// Client 封装 Paho MQTT 客户端
type Client struct {
	inner paho.Client
	opts  ClientOptions
	mu    sync.Mutex
}

// NewClient 创建一个新的 MQTT 客户端并连接到 Broker
func NewClient(opts ClientOptions) (*Client, error) {
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	c := &Client{opts: opts}
	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return c, nil
}

// Publish 发布到指定主题并等待完成
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.inner.Publish(topic, c.opts.Qos, c.opts.Retain, payload)
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return tok.Error()
}

// Subscribe 订阅主题，handler 接收实际主题和原始负载
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	tok := c.inner.Subscribe(topic, c.opts.Qos, func(_ paho.Client, m paho.Message) {
		handler(m.Topic(), m.Payload())
	})
	tok.Wait()
	return tok.Error()
}

// Disconnect 断开与 Broker 的连接
func (c *Client) Disconnect() {
	c.inner.Disconnect(250)
}
