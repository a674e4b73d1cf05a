package log

// Logger is implemented by loggers that hand out LogEvents.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	IgnoreCheckLevel() bool
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger *GameLogger

func init() {
	_defaultLogger = NewLogger(DefaultCfg())
}

// Initialize replaces the default logger with one built from cfg. A nil cfg
// restores DefaultCfg.
func Initialize(cfg *LogCfg) error {
	if cfg == nil {
		cfg = DefaultCfg()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	SetDefaultLogger(NewLogger(cfg))
	return nil
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.AddAppender(appender)
}

// Refresh flushes the default logger's appenders.
func Refresh() {
	_defaultLogger.Refresh()
}

// Close closes the default logger's appenders.
func Close() {
	_defaultLogger.Close()
}

// SetDefaultLogger replaces the logger behind the package-level functions.
func SetDefaultLogger(logger *GameLogger) {
	_defaultLogger = logger
}

// Default returns the logger behind the package-level functions.
func Default() *GameLogger {
	return _defaultLogger
}

// SetLevel changes the minimum level of the default logger.
func SetLevel(level Level) {
	_defaultLogger.SetLevel(level)
}

// Debug creates a new debug-level log event using the default logger.
func Debug() *LogEvent {
	return _defaultLogger.Debug()
}

// Info creates a new info-level log event using the default logger.
func Info() *LogEvent {
	return _defaultLogger.Info()
}

// Warn creates a new warn-level log event using the default logger.
func Warn() *LogEvent {
	return _defaultLogger.Warn()
}

// Error creates a new error-level log event using the default logger.
func Error() *LogEvent {
	return _defaultLogger.Error()
}

// Fatal creates a new fatal-level log event using the default logger.
func Fatal() *LogEvent {
	return _defaultLogger.Fatal()
}
