package config

// Device 描述一台串口设备
type Device struct {
	Name            string             `yaml:"name"`            // 逻辑名称
	Type            string             `yaml:"type"`            // CPC/PSM/PSM2/RHTP/AFM/...
	Device          string             `yaml:"device"`          // 串口设备节点
	PortType        string             `yaml:"portType"`        // uart/rs485/rs232/loopback
	Baudrate        int                `yaml:"baudrate"`        // 波特率
	DEPin           int                `yaml:"dePin"`           // RS-485 DE/RE 控制 GPIO 编号
	TimeoutMs       int                `yaml:"timeoutMs"`       // 单次应答超时（毫秒）
	PollIntervalMs  int                `yaml:"pollIntervalMs"`  // 轮询周期（毫秒）
	ProbeIntervalMs int                `yaml:"probeIntervalMs"` // 断线探测周期（毫秒）
	Bus             string             `yaml:"bus"`             // 共享总线名，留空表示独占
	SerialNumber    string             `yaml:"serialNumber"`    // 已知序列号，留空则向设备查询
	TenHz           bool               `yaml:"tenHz"`           // CPC 10 Hz 浓度日志
	Params          map[string]float64 `yaml:"params"`          // 稀释参数、CO 流量等
}

// Session 会话的去抖与重连参数
type Session struct {
	MissThreshold    int `yaml:"missThreshold"`    // 连续超时次数
	SilenceMs        int `yaml:"silenceMs"`        // 静默时长门限
	BackoffInitialMs int `yaml:"backoffInitialMs"` // 首次重连等待
	BackoffMaxMs     int `yaml:"backoffMaxMs"`     // 重连等待上限
	ResyncLimit      int `yaml:"resyncLimit"`      // 无帧边界的字节数上限
	ParseBufferBytes int `yaml:"parseBufferBytes"` // 解析缓冲上限
}

// Band 脉冲比可接受区间
type Band struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Diagnostics 诊断门限，均为标定常数
type Diagnostics struct {
	PulseRatio     map[string]Band `yaml:"pulseRatio"`     // 设备类型 → 区间
	TenHzWindowSec int             `yaml:"tenHzWindowSec"` // 滑动窗口长度
	TenHzRate      int             `yaml:"tenHzRate"`      // 期望采样率
	TenHzTolerance *int            `yaml:"tenHzTolerance"` // 允许的样本数偏差，可以为 0
}

// Log 数据文件输出
type Log struct {
	Dir          string `yaml:"dir"`
	FileTag      string `yaml:"fileTag"`
	FlushMs      int    `yaml:"flushMs"`
	DailyFiles   *bool  `yaml:"dailyFiles"`
	BacklogLimit int    `yaml:"backlogLimit"` // 仅内存模式下缓存的行数上限
}

// MQTT 与界面协作方之间的桥
type MQTT struct {
	Enabled           bool   `yaml:"enabled"`
	Broker            string `yaml:"broker"`
	ClientID          string `yaml:"clientId"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	TopicPrefix       string `yaml:"topicPrefix"`
	Qos               int    `yaml:"qos"`
	KeepAliveSec      int    `yaml:"keepAliveSec"`
	ConnectTimeoutSec int    `yaml:"connectTimeoutSec"`
}

// Metrics Prometheus 监听地址
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Config 汇总了 Devices、Session、Diagnostics、Log 等
type Config struct {
	Devices     []Device    `yaml:"Devices"`
	Session     Session     `yaml:"Session"`
	Diagnostics Diagnostics `yaml:"Diagnostics"`
	Log         Log         `yaml:"Log"`
	MQTT        MQTT        `yaml:"MQTT"`
	Metrics     Metrics     `yaml:"Metrics"`

	index map[string]int
}
