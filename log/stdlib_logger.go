// SPDX-License-Identifier: ice License 1.0
//go:build !zerolog

package log

import (
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/httpupgrade/config"
	"github.com/ice-blockchain/httpupgrade/terror"
)

const (
	callDepth = 3
)

//nolint:gochecknoglobals // Immutable singleton.
var (
	appCfg cfg
	// Ordered by verbosity, most verbose first.
	levels = []string{"debug", "info", "warn", "error"}
)

//nolint:gochecknoinits // log is global, so it's initialization can be done in init
func init() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix | log.LUTC | log.Lshortfile | log.Lmicroseconds)
	config.MustLoadFromKey(configKey, &appCfg)
}

func enabled(level string) bool {
	configured := strings.ToLower(appCfg.Level)
	for _, lvl := range levels {
		if lvl == configured {
			return true
		}
		if lvl == level {
			return false
		}
	}

	return true
}

func output(level, msg string, fields ...any) {
	if !enabled(level) {
		return
	}
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(level))
	sb.WriteString(": ")
	sb.WriteString(msg)
	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			fmt.Fprintf(&sb, " %v=%v", fields[i], fields[i+1])
		} else {
			fmt.Fprintf(&sb, " %v", fields[i])
		}
	}
	_ = log.Output(callDepth, sb.String()) //nolint:errcheck // Nowhere to report it.
}

func Error(err error, fields ...any) {
	if err == nil {
		return
	}
	if tErr := terror.As(err); tErr != nil {
		keys := make([]string, 0, len(tErr.Data))
		for k := range tErr.Data {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		data := make([]any, 0, 2*len(keys)+len(fields)) //nolint:mnd,gomnd // Key and value.
		for _, k := range keys {
			data = append(data, k, tErr.Data[k])
		}
		fields = append(data, fields...)
	}
	output("error", err.Error(), fields...)
}

func Debug(msg string, fields ...any) {
	output("debug", msg, fields...)
}

func Info(msg string, fields ...any) {
	output("info", msg, fields...)
}

func Warn(msg string, fields ...any) {
	output("warn", msg, fields...)
}

func Panic(anything any, fields ...any) {
	if anything == nil {
		return
	}
	defer func() {
		panic(anything)
	}()
	Error(toError(anything), fields...)
}

func toError(anything any) error {
	switch obj := anything.(type) {
	case error:
		return obj
	case string:
		return errors.New(obj)
	default:
		return errors.Errorf("%#v", obj)
	}
}
