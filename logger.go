package nio

import (
	"os"

	"github.com/rs/zerolog"
)

// logger 为库级日志器，默认输出结构化日志到 stderr。
// Fatal 级别用于不可恢复的初始化错误（socket/bind/listen/wakeup 创建失败）。
var logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)

// SetLogger 替换库级日志器；需在任何 loop 启动前调用。
func SetLogger(l zerolog.Logger) { logger = l }
