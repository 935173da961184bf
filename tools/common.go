package tools

import (
	"os"
	"strconv"
	"strings"
)

// 环境变量（覆盖配置文件，不出现在命令行里）：
// MESSAGEBOX_CONFIG          配置文件路径，--config 的默认值
// MESSAGEBOX_REDIS_PASSWORD  redis 密码
// MESSAGEBOX_NATS_PASSWORD   nats 密码
// MESSAGEBOX_GIN_DEBUG       true 则 gin 以 debug 模式运行

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}
