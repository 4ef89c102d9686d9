// Package logger 基于 zap 构建应用日志器。
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 根据运行环境、级别与编码创建日志器，并附加 app/version 字段。
// dev 环境使用彩色 console 输出，其余环境使用生产配置。
func New(env, level, encoding, appName, version string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch encoding {
	case "json", "console":
		cfg.Encoding = encoding
	case "":
	default:
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}
	if cfg.Encoding == "json" {
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}

	lg, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return lg.With(zap.String("app", appName), zap.String("version", version)), nil
}
