package core

import "time"

// IDataProvider is the contract between the engine and any market data source.
// GetCurrentPrice returns (nil, nil) when the symbol has no usable quote at dt.
type IDataProvider interface {
	GetTradingCalendar(start, end string) ([]string, error)
	GetCurrentPrice(symbol string, dt time.Time) (*PriceSnapshot, error)
	GetSymbolInfo(symbol string, date string) (*SymbolInfo, error)
}

// IClock abstracts wall-clock access so simulation runs can be driven by a fake clock in tests.
type IClock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// ITimeSource exposes the engine's logical time and run mode to components
// that must not depend on the session directly.
type ITimeSource interface {
	CurrentDT() time.Time
	Mode() Mode
}

// IStateStore persists opaque state blobs keyed by tag.
type IStateStore interface {
	Save(tag string, data []byte) error
	Load(tag string) ([]byte, error)
	Tags() ([]string, error)
	Close() error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
