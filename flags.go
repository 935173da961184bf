package main

import (
	"fmt"
	"strings"

	"MessageBox/global"
	"MessageBox/tools"

	"github.com/spf13/pflag"
)

type optDef struct {
	key   string // AppConfig key, dotted for nested sections
	alias string
	usage string
	kind  string // int|string|list|bool
}

var optDefs = []optDef{
	{"neighbour", "", "neighbour ip:port, repeatable", "list"},
	{"userTimeout", "ut", "seconds before an idle user is removed", "int"},
	{"holdTimeout", "ht", "seconds before an idle receive is answered with timeout", "int"},
	{"manageTimeout", "mt", "seconds between management sweeps", "int"},
	{"externalIp", "exip", "HTTP bind address", "string"},
	{"externalPort", "exp", "HTTP port", "int"},
	{"internalIp", "inip", "neighbour listener bind address", "string"},
	{"internalPort", "inp", "neighbour listener port", "int"},
	{"multiDeliver", "md", "max messages per receive reply", "int"},
	{"senders", "", "add a senders array to receive replies", "bool"},
	{"maxNeighbours", "", "max accepted neighbour connections", "int"},
	{"nodeId", "", "node id, defaults to externalIp:externalPort", "string"},
	{"assetsDir", "", "directory of the static pages", "string"},
	{"origins", "", "allowed CORS origins, repeatable", "list"},
	{"grpcHealthPort", "", "gRPC health port, 0 disables", "int"},
	{"logLevel", "", "debug|info|warn|error", "string"},
	{"logFile", "", "rotated log file", "string"},
	{"redis.addr", "", "redis address for the presence mirror", "string"},
	{"nats.servers", "", "nats servers for lifecycle events", "list"},
	{"nats.subject", "", "nats subject prefix", "string"},
	{"nats.jetStream", "", "publish events through JetStream", "bool"},
	{"kafka.brokers", "", "kafka brokers for the delivery audit", "list"},
	{"kafka.topicPattern", "", "kafka topic pattern", "string"},
	{"kafka.topicCount", "", "kafka topics to spread recipients over", "int"},
	{"kafka.ensureTopics", "", "create missing kafka topics on start", "bool"},
}

// loadConfig layers defaults, the optional YAML file, environment secrets
// and finally the flags that were actually given.
func loadConfig(args []string) (global.AppConfig, error) {
	cfg := global.DefaultAppConfig()

	fs := pflag.NewFlagSet("messagebox", pflag.ContinueOnError)
	fs.SortFlags = false
	configPath := fs.String("config", tools.GetEnv("MESSAGEBOX_CONFIG", ""), "YAML config file")
	for _, d := range optDefs {
		names := []string{d.key}
		if d.alias != "" {
			names = append(names, d.alias)
		}
		for _, name := range names {
			switch d.kind {
			case "int":
				fs.Int(name, 0, d.usage)
			case "list":
				if name == "neighbour" {
					fs.StringArrayP(name, "n", nil, d.usage)
					continue
				}
				fs.StringArray(name, nil, d.usage)
			case "bool":
				fs.Bool(name, false, d.usage)
			default:
				fs.String(name, "", d.usage)
			}
		}
	}
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := global.LoadFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.Redis.Password = tools.GetEnv("MESSAGEBOX_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Nats.Password = tools.GetEnv("MESSAGEBOX_NATS_PASSWORD", cfg.Nats.Password)

	m, err := changedFlags(fs)
	if err != nil {
		return cfg, err
	}
	if err := global.Decode(m, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Norm(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// changedFlags turns the given flags into the nested map Decode expects.
func changedFlags(fs *pflag.FlagSet) (map[string]any, error) {
	keys := map[string]string{}
	for _, d := range optDefs {
		keys[d.key] = d.key
		if d.alias != "" {
			keys[d.alias] = d.key
		}
	}

	out := map[string]any{}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok || err != nil {
			return
		}
		var v any = f.Value.String()
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			prev, _ := lookup(out, key).([]string)
			v = append(prev, sv.GetSlice()...)
		}
		err = put(out, key, v)
	})
	return out, err
}

func lookup(m map[string]any, key string) any {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := m[p].(map[string]any)
		if !ok {
			return nil
		}
		m = sub
	}
	return m[parts[len(parts)-1]]
}

func put(m map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	for _, p := range parts[:len(parts)-1] {
		sub, ok := m[p].(map[string]any)
		if !ok {
			if _, taken := m[p]; taken {
				return fmt.Errorf("flag %s conflicts with %s", key, p)
			}
			sub = map[string]any{}
			m[p] = sub
		}
		m = sub
	}
	m[parts[len(parts)-1]] = v
	return nil
}
