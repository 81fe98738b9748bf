// Package logger — единый вывод логов lockstep с префиксом, учётом quiet и debug.
package logger

import (
	"log"
	"sync/atomic"
)

const prefix = "lockstep: "

var (
	quiet atomic.Bool
	debug atomic.Bool
)

// SetQuiet при true отключает информационные сообщения (Info, Debug); Warn и Error выводятся всегда.
func SetQuiet(v bool) { quiet.Store(v) }

// SetDebug включает подробный вывод (тайминги motor task, каждый PONG).
func SetDebug(v bool) { debug.Store(v) }

// Quiet возвращает текущий режим quiet.
func Quiet() bool { return quiet.Load() }

// DebugEnabled сообщает, включён ли подробный вывод.
func DebugEnabled() bool { return debug.Load() && !quiet.Load() }

// Info выводит сообщение с префиксом "lockstep: ", если quiet выключен.
func Info(format string, args ...interface{}) {
	if quiet.Load() {
		return
	}
	log.Printf(prefix+format, args...)
}

// Debug выводит сообщение только в режиме debug.
func Debug(format string, args ...interface{}) {
	if !DebugEnabled() {
		return
	}
	log.Printf(prefix+format, args...)
}

// Warn выводит предупреждение всегда.
func Warn(format string, args ...interface{}) {
	log.Printf(prefix+"WARN "+format, args...)
}

// Error выводит сообщение об ошибке с префиксом "lockstep: " всегда.
func Error(format string, args ...interface{}) {
	log.Printf(prefix+"ERROR "+format, args...)
}

// Component — логгер компонента с тегом, например "[sync]" или "[motor]".
type Component struct {
	tag string
}

// With возвращает логгер компонента; tag добавляется в каждое сообщение.
func With(tag string) Component {
	return Component{tag: "[" + tag + "] "}
}

func (c Component) Info(format string, args ...interface{})  { Info(c.tag+format, args...) }
func (c Component) Debug(format string, args ...interface{}) { Debug(c.tag+format, args...) }
func (c Component) Warn(format string, args ...interface{})  { Warn(c.tag+format, args...) }
func (c Component) Error(format string, args ...interface{}) { Error(c.tag+format, args...) }
