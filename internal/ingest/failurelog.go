package ingest

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FailureRecorder receives every ERROR outcome.
type FailureRecorder interface {
	Record(packageID string, o Outcome)
}

// FailureLog appends one JSON line per failed granule.
type FailureLog struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
}

// OpenFailureLog opens path in append mode, creating it and its directory
// when missing.
func OpenFailureLog(path string) (*FailureLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "ingest: create failure log dir %s", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open failure log %s", path)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "msg"
	encCfg.CallerKey = ""
	encCfg.StacktraceKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	return &FailureLog{file: f, logger: zap.New(core)}, nil
}

// Record writes one entry. Safe for concurrent use.
func (l *FailureLog) Record(packageID string, o Outcome) {
	fields := []zap.Field{
		zap.String("id", uuid.NewString()),
		zap.String("package_id", packageID),
		zap.String("granule_id", o.GranuleID),
		zap.String("reason", o.Reason),
	}
	if o.Err != nil {
		fields = append(fields, zap.String("cause", o.Err.Error()))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Error("ERROR: "+o.GranuleID+" - "+o.Reason, fields...)
}

// Close flushes and closes the file.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.logger.Sync()
	return eris.Wrap(l.file.Close(), "ingest: close failure log")
}
