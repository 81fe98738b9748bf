//go:build !linux

package clock

import "errors"

// newRawCounter — заглушка на не-Linux.
func newRawCounter() (Counter, error) {
	return nil, errors.New("clock source raw is only available on linux")
}
