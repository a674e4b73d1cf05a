package log

// LevelChangeEntry overrides the log level at one source location, so a single
// noisy call site can be enabled without lowering the global level.
type LevelChangeEntry struct {
	// FileName is the "dir/file.go" form reported in the caller field,
	// e.g. "netlib/netlib.go".
	FileName string `mapstructure:"file"`

	LineNum int `mapstructure:"line"`

	// LogLevel is the level the call site is promoted to.
	LogLevel Level `mapstructure:"level"`
}

// levelChange is a file -> line -> level lookup. It is built once and read-only afterwards.
type levelChange struct {
	changes map[string]map[int]Level
}

func newLevelChange(entrys []LevelChangeEntry) *levelChange {
	c := &levelChange{
		changes: make(map[string]map[int]Level),
	}

	for _, entry := range entrys {
		c.AddChange(entry)
	}

	return c
}

func (lc *levelChange) Empty() bool {
	return len(lc.changes) == 0
}

func (lc *levelChange) AddChange(entry LevelChangeEntry) {
	if _, ok := lc.changes[entry.FileName]; !ok {
		lc.changes[entry.FileName] = make(map[int]Level)
	}
	lc.changes[entry.FileName][entry.LineNum] = entry.LogLevel
}

// GetLevel returns the override for file:line, then for the whole file (line 0),
// falling back to level.
func (lc *levelChange) GetLevel(fileName string, lineNum int, level Level) Level {
	if _, ok := lc.changes[fileName]; !ok {
		return level
	}
	if lv, ok := lc.changes[fileName][lineNum]; ok {
		return lv
	}
	if lv, ok := lc.changes[fileName][0]; ok {
		return lv
	}
	return level
}
