// Package wire — текстовый протокол между узлами: одна команда на кадр,
// поля разделены '|'. 64-битные значения передаются двумя 32-битными
// половинами (старшая, младшая).
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind — тип сообщения.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
	KindBatch
	KindBatchAck
	KindStartSession
	KindPauseSession
	KindResumeSession
	KindStopSession
	KindIdentify
)

var kindNames = map[Kind]string{
	KindPing:          "PING",
	KindPong:          "PONG",
	KindBatch:         "MC",
	KindBatchAck:      "MC_ACK",
	KindStartSession:  "START_SESSION",
	KindPauseSession:  "PAUSE_SESSION",
	KindResumeSession: "RESUME_SESSION",
	KindStopSession:   "STOP_SESSION",
	KindIdentify:      "IDENTIFY",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// IsSessionCommand сообщает, что k — одна из команд START/PAUSE/RESUME/STOP_SESSION.
func (k Kind) IsSessionCommand() bool {
	return k >= KindStartSession && k <= KindStopSession
}

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
)

// RoleSecondary — роль в IDENTIFY.
const RoleSecondary = "SECONDARY"

// Message — разобранное сообщение. Заполнены только поля, относящиеся к Kind.
type Message struct {
	Kind  Kind
	Seq   uint32
	T1    uint64 // PING
	T2    uint64 // PONG
	T3    uint64 // PONG
	Batch Batch  // MC
	Role  string // IDENTIFY
}

func split64(v uint64) (hi, lo uint32) {
	return uint32(v >> 32), uint32(v)
}

func join64(hi, lo uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// EncodePing — "PING:seq|t1" или "PING:seq|t1high|t1low", если t1 не помещается в 32 бита.
func EncodePing(seq uint32, t1 uint64) string {
	hi, lo := split64(t1)
	if hi == 0 {
		return fmt.Sprintf("PING:%d|%d", seq, lo)
	}
	return fmt.Sprintf("PING:%d|%d|%d", seq, hi, lo)
}

// EncodePong — "PONG:seq|t2low|t3low" или полная форма с четырьмя половинами.
func EncodePong(seq uint32, t2, t3 uint64) string {
	t2hi, t2lo := split64(t2)
	t3hi, t3lo := split64(t3)
	if t2hi == 0 && t3hi == 0 {
		return fmt.Sprintf("PONG:%d|%d|%d", seq, t2lo, t3lo)
	}
	return fmt.Sprintf("PONG:%d|%d|%d|%d|%d", seq, t2hi, t2lo, t3hi, t3lo)
}

// EncodeAck — "MC_ACK:seq".
func EncodeAck(seq uint32) string {
	return fmt.Sprintf("MC_ACK:%d", seq)
}

// EncodeCommand — команда сессии "<KIND>:seq".
func EncodeCommand(k Kind, seq uint32) (string, error) {
	if !k.IsSessionCommand() {
		return "", fmt.Errorf("%v is not a session command: %w", k, ErrUnknownCommand)
	}
	return fmt.Sprintf("%s:%d", k, seq), nil
}

// EncodeIdentify — "IDENTIFY:<role>".
func EncodeIdentify(role string) string {
	return "IDENTIFY:" + role
}

// Decode разбирает один кадр. Для MC без единого годного события
// возвращает сообщение с заголовком пакета вместе с ErrEmptyBatch.
func Decode(line string) (Message, error) {
	line = strings.TrimSpace(line)
	name, params, ok := strings.Cut(line, ":")
	if !ok {
		return Message{}, fmt.Errorf("%q: no command separator: %w", line, ErrMalformed)
	}
	kind, ok := kindByName[name]
	if !ok {
		return Message{}, fmt.Errorf("%q: %w", name, ErrUnknownCommand)
	}
	msg := Message{Kind: kind}
	if kind == KindIdentify {
		if params == "" {
			return Message{}, fmt.Errorf("IDENTIFY without role: %w", ErrMalformed)
		}
		msg.Role = params
		return msg, nil
	}
	if kind == KindBatch {
		b, err := decodeBatch(params)
		if err != nil && !errors.Is(err, ErrEmptyBatch) {
			return Message{}, err
		}
		msg.Seq = b.Seq
		msg.Batch = b
		return msg, err
	}

	fields := strings.Split(params, "|")
	nums, err := parseUints(fields)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", kind, err)
	}
	msg.Seq = nums[0]
	rest := nums[1:]
	switch kind {
	case KindPing:
		switch len(rest) {
		case 1:
			msg.T1 = uint64(rest[0])
		case 2:
			msg.T1 = join64(rest[0], rest[1])
		default:
			return Message{}, fmt.Errorf("PING: %d timestamp fields: %w", len(rest), ErrMalformed)
		}
	case KindPong:
		switch len(rest) {
		case 2:
			msg.T2, msg.T3 = uint64(rest[0]), uint64(rest[1])
		case 4:
			msg.T2 = join64(rest[0], rest[1])
			msg.T3 = join64(rest[2], rest[3])
		default:
			return Message{}, fmt.Errorf("PONG: %d timestamp fields: %w", len(rest), ErrMalformed)
		}
	default:
		if len(rest) != 0 {
			return Message{}, fmt.Errorf("%s: unexpected fields: %w", kind, ErrMalformed)
		}
	}
	return msg, nil
}

func parseUints(fields []string) ([]uint32, error) {
	out := make([]uint32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("field %d %q: %w", i, f, ErrMalformed)
		}
		out[i] = uint32(v)
	}
	return out, nil
}
