package global

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// AppConfig is everything the relay core and its sinks read at startup.
// Timeouts are given in seconds, Norm turns them into durations.
type AppConfig struct {
	NodeId string `mapstructure:"nodeId"` // 节点ID, defaults to externalIp:externalPort

	Neighbours []string `mapstructure:"neighbour"` // ip:port of peers' internal listeners

	UserTimeout   int `mapstructure:"userTimeout"`   // seconds
	HoldTimeout   int `mapstructure:"holdTimeout"`   // seconds
	ManageTimeout int `mapstructure:"manageTimeout"` // seconds, reaper interval
	MultiDeliver  int `mapstructure:"multiDeliver"`  // max messages per reply

	Senders bool `mapstructure:"senders"` // add a per-message senders array to replies

	ExternalIp    string `mapstructure:"externalIp"`   // HTTP bind address
	ExternalPort  int    `mapstructure:"externalPort"` // HTTP port
	InternalIp    string `mapstructure:"internalIp"`   // neighbour link bind address
	InternalPort  int    `mapstructure:"internalPort"` // neighbour link port
	MaxNeighbours int    `mapstructure:"maxNeighbours"`

	AssetsDir      string   `mapstructure:"assetsDir"`
	Origins        []string `mapstructure:"origins"`        // CORS, empty allows all
	GrpcHealthPort int      `mapstructure:"grpcHealthPort"` // 0 disables

	LogLevel string `mapstructure:"logLevel"`
	LogFile  string `mapstructure:"logFile"`

	Redis RedisConfig `mapstructure:"redis"`
	Nats  NatsConfig  `mapstructure:"nats"`
	Kafka KafkaConfig `mapstructure:"kafka"`

	// filled by Norm
	UserTTL     time.Duration `mapstructure:"-"`
	HoldTTL     time.Duration `mapstructure:"-"`
	ManageEvery time.Duration `mapstructure:"-"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // empty disables the presence mirror
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NatsConfig struct {
	Servers   []string `mapstructure:"servers"` // empty disables event publishing
	Subject   string   `mapstructure:"subject"` // subject prefix
	User      string   `mapstructure:"user"`
	Password  string   `mapstructure:"password"`
	JetStream bool     `mapstructure:"jetStream"` // 需要服务端已有 stream
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"` // empty disables the delivery audit
	TopicPattern string   `mapstructure:"topicPattern"`
	TopicCount   int      `mapstructure:"topicCount"`
	Partitions   int32    `mapstructure:"partitions"`
	Replication  int16    `mapstructure:"replication"`
	Compression  string   `mapstructure:"compression"`
	EnsureTopics bool     `mapstructure:"ensureTopics"`
}

// Norm fills defaults and derived fields and validates ports.
func (c *AppConfig) Norm() error {
	if c.UserTimeout <= 0 {
		c.UserTimeout = 360
	}
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = 120
	}
	if c.ManageTimeout <= 0 {
		c.ManageTimeout = 60
	}
	if c.MultiDeliver <= 0 {
		c.MultiDeliver = 10
	}
	if c.ExternalPort == 0 {
		c.ExternalPort = 8000
	}
	if c.InternalPort == 0 {
		c.InternalPort = 8001
	}
	if c.ExternalPort < 0 || c.ExternalPort > 65535 {
		return fmt.Errorf("externalPort out of range: %d", c.ExternalPort)
	}
	if c.InternalPort < 0 || c.InternalPort > 65535 {
		return fmt.Errorf("internalPort out of range: %d", c.InternalPort)
	}
	if c.MaxNeighbours <= 0 {
		c.MaxNeighbours = 256
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "./public"
	}
	if c.NodeId == "" {
		host := c.ExternalIp
		if host == "" {
			host = "0.0.0.0"
		}
		c.NodeId = net.JoinHostPort(host, strconv.Itoa(c.ExternalPort))
	}
	if c.Nats.Subject == "" {
		c.Nats.Subject = "messagebox"
	}
	if c.Kafka.TopicPattern == "" {
		c.Kafka.TopicPattern = "messagebox.delivery-%02d"
	}
	if c.Kafka.TopicCount <= 0 {
		c.Kafka.TopicCount = 1
	}
	for _, n := range c.Neighbours {
		if _, _, err := net.SplitHostPort(n); err != nil {
			return fmt.Errorf("bad neighbour %q: %w", n, err)
		}
	}

	c.UserTTL = time.Duration(c.UserTimeout) * time.Second
	c.HoldTTL = time.Duration(c.HoldTimeout) * time.Second
	c.ManageEvery = time.Duration(c.ManageTimeout) * time.Second
	return nil
}

func (c *AppConfig) ExternalAddr() string {
	return net.JoinHostPort(c.ExternalIp, strconv.Itoa(c.ExternalPort))
}

func (c *AppConfig) InternalAddr() string {
	return net.JoinHostPort(c.InternalIp, strconv.Itoa(c.InternalPort))
}
