package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

const maskedValue = "***"

/* sensitiveKeys 归一化后（小写、去掉 _ 和 -）包含这些片段的字段会被脱敏 */
var sensitiveKeys = []string{
	"password",
	"apikey",
	"secret",
	"token",
	"authorization",
}

/*
IsSensitiveKey 判断字段名是否需要脱敏
功能：大小写与分隔符不敏感，例如 api_key / apiKey / X-Api-Key 均命中
*/
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	k = strings.NewReplacer("_", "", "-", "").Replace(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

/*
maskingCore 脱敏 Core
功能：包装任意 zapcore.Core，在 With / Write 时替换敏感字段的值
*/
type maskingCore struct {
	zapcore.Core
}

/* NewMaskingCore 包装 core，敏感字段统一输出为 *** */
func NewMaskingCore(core zapcore.Core) zapcore.Core {
	return &maskingCore{Core: core}
}

func (c *maskingCore) With(fields []zapcore.Field) zapcore.Core {
	return &maskingCore{Core: c.Core.With(maskFields(fields))}
}

func (c *maskingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *maskingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(ent, maskFields(fields))
}

func maskFields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		if !IsSensitiveKey(f.Key) {
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, len(fields))
			copy(out, fields)
		}
		out[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: maskedValue}
	}
	if out == nil {
		return fields
	}
	return out
}
