package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/ui"
	"github.com/ohmynofan/camp-loyalty-bot/pkg/utils"
	"github.com/rs/zerolog"
)

var (
	fileLogger *zerolog.Logger
	once       sync.Once
	logFile    *os.File
)

func Init(path, runID string) error {
	var err error
	once.Do(func() {
		os.Remove(path)
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return
		}
		logFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		zerolog.TimeFieldFormat = time.RFC3339Nano
		l := zerolog.New(logFile).With().Timestamp().Str("run_id", runID).Logger()
		fileLogger = &l
	})
	return err
}

func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

type ClassLogger struct {
	class    string
	identity *model.Identity
}

func NewLogger(v interface{}, identity *model.Identity) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), identity: identity}
}

func NewNamed(name string, identity *model.Identity) *ClassLogger {
	return &ClassLogger{class: name, identity: identity}
}

// Log writes msg to the file sink and shows it on the identity's panel for
// the given duration (300ms by default). The call blocks for that duration.
func (l *ClassLogger) Log(msg string, durationMs ...int) {
	totalDuration := 300 * time.Millisecond
	if len(durationMs) > 0 {
		totalDuration = time.Duration(durationMs[0]) * time.Millisecond
	}

	identity := l.identity
	if identity == nil {
		return
	}

	if fileLogger != nil {
		fileLogger.Info().
			Int("account", identity.AccIdx+1).
			Str("class", l.class).
			Str("func", callerFunc(2)).
			Msg(msg)
	}

	displayMsg := shortenForDisplay(msg)

	if totalDuration > 0 {
		interval := 1 * time.Second

		for remaining := totalDuration; remaining > 0; remaining -= interval {
			ui.UpdateStatus(*identity, displayMsg, remaining)

			sleepTime := interval
			if remaining < interval {
				sleepTime = remaining
			}
			time.Sleep(sleepTime)
		}
	}

	ui.UpdateStatus(*identity, displayMsg, 0)
}

func (l *ClassLogger) JustLog(msg string) {
	if fileLogger == nil {
		return
	}
	event := fileLogger.Debug().Str("class", l.class).Str("func", callerFunc(2))
	if l.identity != nil {
		event = event.Int("account", l.identity.AccIdx+1)
	}
	event.Msg(msg)
}

func (l *ClassLogger) LogObject(msg string, obj interface{}) {
	if fileLogger != nil {
		formattedString, err := utils.FormatObject(obj)
		if err != nil {
			l.JustLog(fmt.Sprintf("Error formatting object: %v", err))
			return
		}
		l.JustLog(fmt.Sprintf("%s : \n%v", msg, formattedString))
	}
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}

func shortenForDisplay(msg string) string {
	const maxLen = 140
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen-1]) + "…"
}
