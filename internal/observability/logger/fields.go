package logger

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers so callers do not import zap directly for common fields.

func String(k, v string) zap.Field       { return zap.String(k, v) }
func Int(k string, v int) zap.Field      { return zap.Int(k, v) }
func Err(err error) zap.Field            { return zap.Error(err) }
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }
func RequestID(v string) zap.Field       { return zap.String("request_id", v) }
func Tenant(v string) zap.Field          { return zap.String("tenant", v) }
func Provider(v string) zap.Field        { return zap.String("provider", v) }
func IdentityID(v string) zap.Field      { return zap.String("identity_id", v) }
func Email(v string) zap.Field           { return zap.String("email", v) }
func Path(v string) zap.Field            { return zap.String("path", v) }
func Method(v string) zap.Field          { return zap.String("method", v) }
func Status(v int) zap.Field             { return zap.Int("status", v) }
