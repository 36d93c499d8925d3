package log

import (
	"go.uber.org/zap"
)

// Report is one operator-facing diagnostic. Code is the externally documented
// error code (e.g. "EI0004"), distinct from the internal result code.
type Report struct {
	Code  string
	Cause string
	Tip   string
}

const (
	// CodeRankTableInvalid is reported for rank table / descriptor errors.
	CodeRankTableInvalid = "EI0004"
	// CodeEnvInvalid is reported for invalid environment configuration.
	CodeEnvInvalid = "EI0001"
	// CodeSocketBuild is reported when the topology exchange fails to connect.
	CodeSocketBuild = "EI0006"
	// CodeWhitelist is reported when a peer is rejected by the whitelist.
	CodeWhitelist = "EI0019"
)

// Report writes an operator-facing entry on the operator logger. The
// internal line only shows at debug level.
func (l *Logger) Report(r Report, fields ...zap.Field) {
	l.Lock()
	op := l.operator
	sugar := l.sugar
	l.Unlock()
	fs := append([]zap.Field{
		zap.String("code", r.Code),
		zap.String("cause", r.Cause),
		zap.String("tip", r.Tip),
	}, fields...)
	op.Error("operator report", fs...)
	sugar.Debugf("[%s] %s", r.Code, r.Cause)
}

var ReportSink = std.Report

// ReportRankTable reports a rank table configuration error with the default tip.
func ReportRankTable(cause string, fields ...zap.Field) {
	std.Report(Report{
		Code:  CodeRankTableInvalid,
		Cause: cause,
		Tip:   "Please check the rank table file or cluster descriptor content.",
	}, fields...)
}
