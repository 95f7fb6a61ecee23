package hooks

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LogLevelEnv overrides the log level of binaries and tests when set.
const LogLevelEnv = "CONDORTASK_LOGLEVEL"

const modulePath = "condortask/"

type contextHook struct{}

// NewContextHook adds a "file:line" field naming the caller of the logger.
func NewContextHook() log.Hook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "sirupsen/logrus") && !strings.HasSuffix(frame.File, "context_hook.go") {
			file := frame.File
			if i := strings.LastIndex(file, modulePath); i >= 0 {
				file = file[i+len(modulePath):]
			}
			entry.Data["file:line"] = file + ":" + strconv.Itoa(frame.Line)
			return nil
		}
		if !more {
			return nil
		}
	}
}

// ApplyEnvLevel sets the level from LogLevelEnv, or to fallback without the variable.
func ApplyEnvLevel(fallback log.Level) {
	if loglevel := os.Getenv(LogLevelEnv); loglevel != "" {
		level, err := log.ParseLevel(loglevel)
		if err != nil {
			log.Error(err)
			return
		}
		log.SetLevel(level)
		return
	}
	log.SetLevel(fallback)
}
