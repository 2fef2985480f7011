package server

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局 SugaredLogger，落盘到滚动文件
// 默认 Nop：测试里直接用注册表，不必先初始化日志
var Log = zap.NewNop().Sugar()

// InitLogger 把日志定向到 filePath（lumberjack 滚动），JSON 行格式方便采集
func InitLogger(filePath string) error {
	lj := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    20, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "lvl",
		CallerKey:    "at",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeLevel:  zapcore.LowercaseLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(lj), zapcore.InfoLevel)
	Log = zap.New(core, zap.AddCaller()).Sugar()
	return nil
}

// SyncLogger 退出前刷一次缓冲
func SyncLogger() {
	_ = Log.Sync()
}
