// Package config 管理 CLI 客户端配置
// 配置保存在 ~/.career-coach/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultServerURL 默认服务器地址
const DefaultServerURL = "http://localhost:8080"

// Config CLI 配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Chat   ChatConfig   `mapstructure:"chat"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL string `mapstructure:"url"` // HTTP API 地址
}

// AuthConfig 登录凭证
type AuthConfig struct {
	AccessToken string `mapstructure:"access_token"` // 访问 Token
	UserID      string `mapstructure:"user_id"`      // Token 对应的用户ID
}

// ChatConfig 对话配置
type ChatConfig struct {
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`  // 流式响应空闲超时
	SystemPrompt string        `mapstructure:"system_prompt"` // 自定义系统提示词，为空时使用服务端默认值
}

var (
	v          *viper.Viper
	cfg        *Config
	configPath string
)

// Init 初始化配置
// dir 为空时使用 ~/.career-coach
func Init(dir string) error {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".career-coach")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	configPath = filepath.Join(dir, "config.yaml")

	v = viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetDefault("server.url", DefaultServerURL)
	v.SetDefault("auth.access_token", "")
	v.SetDefault("auth.user_id", "")
	v.SetDefault("chat.idle_timeout", 60*time.Second)
	v.SetDefault("chat.system_prompt", "")

	// 环境变量覆盖，例如 COACH_SERVER_URL
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read config: %w", err)
		}
		// 首次运行，写入默认配置
		if err := v.SafeWriteConfigAs(configPath); err != nil {
			var exists viper.ConfigFileAlreadyExistsError
			if !errors.As(err, &exists) {
				return fmt.Errorf("write default config: %w", err)
			}
		}
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Get 获取配置
func Get() *Config {
	return cfg
}

// Path 返回配置文件路径
func Path() string {
	return configPath
}

// SaveAuth 保存访问 Token 和用户ID
func SaveAuth(accessToken, userID string) error {
	v.Set("auth.access_token", accessToken)
	v.Set("auth.user_id", userID)
	cfg.Auth.AccessToken = accessToken
	cfg.Auth.UserID = userID
	return v.WriteConfigAs(configPath)
}

// ClearAuth 清除本地凭证
func ClearAuth() error {
	return SaveAuth("", "")
}

// GetAccessToken 获取访问 Token
func GetAccessToken() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.AccessToken
}

// GetUserID 获取用户ID
func GetUserID() string {
	if cfg == nil {
		return ""
	}
	return cfg.Auth.UserID
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil || cfg.Server.URL == "" {
		return DefaultServerURL
	}
	return strings.TrimRight(cfg.Server.URL, "/")
}

// SetServerURL 设置服务器地址，下次保存配置时一并写入
func SetServerURL(url string) {
	v.Set("server.url", url)
	if cfg != nil {
		cfg.Server.URL = url
	}
}

// IsLoggedIn 检查是否已登录
func IsLoggedIn() bool {
	return cfg != nil && cfg.Auth.AccessToken != "" && cfg.Auth.UserID != ""
}
