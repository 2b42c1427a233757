package safe

import (
	"telethu/logger"
)

// SafeGo starts a new goroutine that recovers from panic,
// so that one misbehaving connection doesn't crash the whole gateway.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[SafeGo] panic recovered: %v", r)
			}
		}()
		f()
	}()
}
