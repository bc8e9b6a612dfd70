package logfields

import "go.uber.org/zap"

func Event(val string) zap.Field {
	return zap.String("event", val)
}

func SkipReason(val string) zap.Field {
	return zap.String("skip_reason", val)
}
