package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment 环境配置管理器
type Environment struct {
	// 基础配置
	Mode     string // development, production, test
	Debug    bool
	LogLevel string

	// 数据库配置
	DatabaseURL string
	IsMemoryDB  bool

	// 投递配置
	MockDelivery   bool
	RequestTimeout time.Duration

	// 功能开关
	EnableSchedulers bool
	EnableTracking   bool
	EnableSurveys    bool
}

// Env 全局环境配置实例
var Env *Environment

// init 初始化配置
func init() {
	Env = LoadEnvironment()
}

// LoadEnvironment 加载环境配置
func LoadEnvironment() *Environment {
	env := &Environment{
		// 默认值
		Mode:             "development",
		LogLevel:         "info",
		RequestTimeout:   30 * time.Second,
		EnableSchedulers: true,
		EnableTracking:   true,
		EnableSurveys:    true,
	}

	// 从环境变量加载配置
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		env.Mode = mode
	}

	if mode := os.Getenv("GO_ENV"); mode != "" {
		env.Mode = mode
	}

	if debug := os.Getenv("DEBUG"); debug != "" {
		env.Debug = strings.ToLower(debug) == "true"
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		env.LogLevel = logLevel
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		env.DatabaseURL = dbURL
		env.IsMemoryDB = strings.Contains(dbURL, ":memory:")
	}

	if mock := os.Getenv("MOCK_DELIVERY"); mock != "" {
		env.MockDelivery = strings.ToLower(mock) == "true"
	}

	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		if val, err := time.ParseDuration(timeout); err == nil {
			env.RequestTimeout = val
		}
	}

	if v := os.Getenv("ENABLE_SCHEDULERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.EnableSchedulers = b
		}
	}

	if v := os.Getenv("ENABLE_TRACKING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.EnableTracking = b
		}
	}

	if v := os.Getenv("ENABLE_SURVEYS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.EnableSurveys = b
		}
	}

	// 根据模式调整配置
	switch env.Mode {
	case "test":
		env.adjustForTestMode()
	case "production", "release":
		env.adjustForProductionMode()
	case "development", "debug":
		env.adjustForDevelopmentMode()
	}

	return env
}

// IsTestMode 检查是否为测试模式
func (e *Environment) IsTestMode() bool {
	return e.Mode == "test"
}

// IsProductionMode 检查是否为生产模式
func (e *Environment) IsProductionMode() bool {
	return e.Mode == "production" || e.Mode == "release"
}

// IsDevelopmentMode 检查是否为开发模式
func (e *Environment) IsDevelopmentMode() bool {
	return e.Mode == "development" || e.Mode == "debug"
}

// ShouldRunSchedulers 是否启动后台任务
func (e *Environment) ShouldRunSchedulers() bool {
	return e.EnableSchedulers && !e.IsTestMode()
}

// ShouldMockDelivery 是否跳过真实的SMTP连接
func (e *Environment) ShouldMockDelivery() bool {
	return e.MockDelivery || e.IsTestMode()
}

// adjustForTestMode 调整测试模式配置
func (e *Environment) adjustForTestMode() {
	e.Debug = true
	e.LogLevel = "debug"
	e.IsMemoryDB = true
	e.MockDelivery = true
	e.EnableSchedulers = false
	e.RequestTimeout = 5 * time.Second
}

// adjustForProductionMode 调整生产模式配置
func (e *Environment) adjustForProductionMode() {
	e.Debug = false
	e.LogLevel = "warn"
	e.MockDelivery = false
	e.RequestTimeout = 30 * time.Second
}

// adjustForDevelopmentMode 调整开发模式配置
func (e *Environment) adjustForDevelopmentMode() {
	e.Debug = true
	e.LogLevel = "debug"
	e.RequestTimeout = 10 * time.Second
}

// GetFeatureFlags 获取功能开关
func (e *Environment) GetFeatureFlags() map[string]bool {
	return map[string]bool{
		"schedulers":    e.EnableSchedulers,
		"tracking":      e.EnableTracking,
		"surveys":       e.EnableSurveys,
		"mock_delivery": e.MockDelivery,
	}
}

// Validate 验证配置
func (e *Environment) Validate() error {
	if e.Mode == "" {
		e.Mode = "development"
	}

	if e.RequestTimeout <= 0 {
		e.RequestTimeout = 30 * time.Second
	}

	return nil
}

// String 返回配置的字符串表示
func (e *Environment) String() string {
	return fmt.Sprintf("Environment{Mode: %s, Debug: %t, IsMemoryDB: %t, MockDelivery: %t, EnableSchedulers: %t}",
		e.Mode, e.Debug, e.IsMemoryDB, e.MockDelivery, e.EnableSchedulers)
}
