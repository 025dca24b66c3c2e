package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// One JSON object per line on stdout. Every package logs through this
// funnel so tests can capture output in a single place.

var (
	logOnce sync.Once
	logDst  *log.Logger
)

// Logger returns the process-wide line logger.
func Logger() *log.Logger {
	logOnce.Do(func() {
		logDst = log.New(os.Stdout, "", 0)
	})
	return logDst
}

// Emit writes one structured log line. A marshal failure falls back to a
// plain error line rather than dropping the event.
func Emit(fields map[string]any) {
	line, err := json.Marshal(fields)
	if err != nil {
		Logger().Printf(`{"level":"error","msg":"unloggable entry","error":%q}`, err.Error())
		return
	}
	Logger().Println(string(line))
}
