package log

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// GameLogger is the structured logger used across the client. Events are built
// with the fluent LogEvent API, filtered here, and rendered as JSON by logrus
// into every registered appender.
//
//	logger := NewLogger(&LogCfg{LogLevel: InfoLevel, ConsoleAppender: true})
//	logger.Info().Str("server", addr).Uint16("slot", slot).Msg("connected")
type GameLogger struct {
	engine            *logrus.Logger
	out               *appenderWriter
	minLevel          atomic.Int32
	callerSkip        int
	eventPool         sync.Pool
	levelChange       *levelChange
	callerCache       sync.Map
	enabledCallerInfo bool
}

// appenderWriter fans logrus output out to the appenders. logrus serializes
// writes with its own mutex, so the slice only needs guarding against AddAppender.
type appenderWriter struct {
	mu        sync.RWMutex
	appenders []LogAppender
}

func (w *appenderWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, a := range w.appenders {
		_, _ = a.Write(p)
	}
	return len(p), nil
}

// NewLogger creates a logger. A nil cfg uses DefaultCfg. Appender construction
// failures fall back to console output.
func NewLogger(cfg *LogCfg) *GameLogger {
	if cfg == nil {
		cfg = DefaultCfg()
	}

	engine := logrus.New()
	engine.SetLevel(logrus.TraceLevel)
	engine.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "time",
			logrus.FieldKeyMsg:  "msg",
		},
	})
	out := &appenderWriter{}
	engine.SetOutput(out)

	logger := &GameLogger{
		engine:            engine,
		out:               out,
		callerSkip:        cfg.CallerSkip,
		levelChange:       newLevelChange(cfg.LevelChange),
		enabledCallerInfo: cfg.EnabledCallerInfo,
	}
	logger.minLevel.Store(int32(cfg.LogLevel))
	logger.eventPool.New = func() any {
		return newEvent(logger)
	}

	if cfg.FileAppender {
		fa, err := NewFileAppender(cfg.LogPath, cfg.FileSplitMB)
		if err == nil {
			logger.AddAppender(fa)
		} else {
			logger.AddAppender(NewConsoleAppender())
			logger.Error().Err(err).Str("path", cfg.LogPath).Msg("open log file failed, using console")
		}
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}
	if cfg.RingBufferKB > 0 {
		ra, err := NewRingAppender(int64(cfg.RingBufferKB) << 10)
		if err == nil {
			logger.AddAppender(ra)
		} else {
			logger.Warn().Err(err).Msg("create ring appender failed")
		}
	}

	return logger
}

// SetLevel changes the minimum level at runtime.
func (x *GameLogger) SetLevel(level Level) {
	x.minLevel.Store(int32(level))
}

func (x *GameLogger) checkLevel(level Level) bool {
	return Level(x.minLevel.Load()) <= level
}

func (x *GameLogger) AddAppender(appender LogAppender) {
	x.out.mu.Lock()
	x.out.appenders = append(x.out.appenders, appender)
	x.out.mu.Unlock()
}

func (x *GameLogger) GetAppender() []LogAppender {
	x.out.mu.RLock()
	defer x.out.mu.RUnlock()
	return append([]LogAppender(nil), x.out.appenders...)
}

// Refresh flushes every appender.
func (x *GameLogger) Refresh() {
	for _, appender := range x.GetAppender() {
		_ = appender.Refresh()
	}
}

// Close closes every appender.
func (x *GameLogger) Close() {
	for _, appender := range x.GetAppender() {
		_ = appender.Close()
	}
}

func (x *GameLogger) IgnoreCheckLevel() bool {
	return false
}

func (x *GameLogger) Debug() *LogEvent { return x.log(DebugLevel) }

func (x *GameLogger) Info() *LogEvent { return x.log(InfoLevel) }

func (x *GameLogger) Warn() *LogEvent { return x.log(WarnLevel) }

func (x *GameLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal events panic once written.
func (x *GameLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

// OnEventEnd writes e through logrus and returns it to the pool.
func (x *GameLogger) OnEventEnd(e *LogEvent) {
	entry := x.engine.WithFields(e.fields)
	if e.level == FatalLevel {
		entry = entry.WithField("fatal", true)
	}
	entry.Log(e.level.logrusLevel(), e.msg)

	if e.level == FatalLevel {
		panic(e.msg)
	}
	x.eventPool.Put(e)
}

func (x *GameLogger) getCallerInfo() *callerInfo {
	pc, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return _UnknownCallerInfo
	}
	if cached, found := x.callerCache.Load(pc); found {
		return cached.(*callerInfo)
	}

	function := runtime.FuncForPC(pc).Name()
	if i := strings.LastIndexByte(function, '.'); i != -1 {
		function = function[i+1:]
	}
	// keep "dir/file.go"
	if i := strings.LastIndexByte(file, '/'); i > 0 {
		if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
			file = file[j+1:]
		}
	}

	c := newCallerInfo(file, function, line)
	x.callerCache.Store(pc, c)
	return c
}

func (x *GameLogger) log(level Level) *LogEvent {
	var info *callerInfo
	if !x.IgnoreCheckLevel() && !x.checkLevel(level) {
		if x.levelChange.Empty() {
			return nil
		}
		info = x.getCallerInfo()
		level = x.levelChange.GetLevel(info.file, info.line, level)
		if !x.checkLevel(level) {
			return nil
		}
	}

	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level

	if x.enabledCallerInfo {
		if info == nil {
			info = x.getCallerInfo()
		}
		e.fields["caller"] = info.String()
	}
	return e
}
