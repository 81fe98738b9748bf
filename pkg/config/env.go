package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DefaultEnvFile — файл с переменными окружения, читается если есть.
const DefaultEnvFile = ".env"

// Переменные окружения, переопределяющие конфиг.
const (
	EnvRole   = "LOCKSTEP_ROLE"
	EnvLink   = "LOCKSTEP_LINK"
	EnvPort   = "LOCKSTEP_PORT"
	EnvBaud   = "LOCKSTEP_BAUD"
	EnvPeer   = "LOCKSTEP_PEER"
	EnvListen = "LOCKSTEP_LISTEN"
	EnvStatus = "LOCKSTEP_STATUS"
	EnvDriver = "LOCKSTEP_DRIVER"
	EnvStore  = "LOCKSTEP_STORE"
)

// LookupFunc ищет переменную окружения.
type LookupFunc func(key string) (string, bool)

// EnvLookup возвращает поиск по окружению процесса с подстановкой из
// envFile. Окружение процесса важнее файла. Отсутствующий файл — не ошибка.
func EnvLookup(envFile string) (LookupFunc, error) {
	vars := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			vars = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv переопределяет поля конфига из окружения.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvRole, &c.Role)
	str(EnvLink, &c.Link.Type)
	str(EnvPort, &c.Link.Port)
	str(EnvPeer, &c.Link.Peer)
	str(EnvListen, &c.Link.Listen)
	str(EnvDriver, &c.Haptic.Driver)
	str(EnvStore, &c.Store.Path)
	// пустой LOCKSTEP_STATUS отключает API
	if v, ok := lookup(EnvStatus); ok {
		c.Status.Listen = v
	}
	if v, ok := lookup(EnvBaud); ok && v != "" {
		baud, err := strconv.Atoi(v)
		if err != nil || baud <= 0 {
			return fmt.Errorf("%s=%q: invalid baud", EnvBaud, v)
		}
		c.Link.Baud = baud
	}
	return nil
}
