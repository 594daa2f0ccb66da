package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "MINERFLEET_"

/*
LoadEnvFile 加载 .env 文件
功能：文件不存在时忽略；已存在的进程环境变量不会被覆盖
*/
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

/*
ApplyEnv 用 MINERFLEET_* 环境变量覆盖配置
功能：容器部署时无需修改配置文件即可调整端口、数据库、Redis、日志级别与 JWT 密钥
*/
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"SERVER_MODE":    &c.Server.Mode,
		"DB_TYPE":        &c.Database.Type,
		"DB_HOST":        &c.Database.Host,
		"DB_USER":        &c.Database.User,
		"DB_PASSWORD":    &c.Database.Password,
		"DB_NAME":        &c.Database.DBName,
		"SQLITE_PATH":    &c.Database.SQLitePath,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
		"JWT_SECRET":     &c.Auth.JWTSecret,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT": &c.Server.Port,
		"DB_PORT":     &c.Database.Port,
		"REDIS_DB":    &c.Redis.DB,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", envPrefix, key, v, err)
		}
		*dst = n
	}
	return nil
}
