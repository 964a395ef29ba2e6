package lock

import (
	"sync"

	"github.com/apex/log"
)

// KeyLocker hands out one mutex per string key. The store layer uses it to
// serialize claim scans per work queue so the scan-then-update in POP cannot
// race with itself inside a single coordinator process.
type KeyLocker struct {
	mapMutex sync.Mutex
	keyMap   map[string]*sync.Mutex
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{
		keyMap: make(map[string]*sync.Mutex),
	}
}

func (l *KeyLocker) AcquireLock(key string) {
	l.mapMutex.Lock()
	keyMutex, ok := l.keyMap[key]
	if !ok {
		keyMutex = &sync.Mutex{}
		l.keyMap[key] = keyMutex
	}
	l.mapMutex.Unlock()
	keyMutex.Lock()
}

func (l *KeyLocker) ReleaseLock(key string) {
	l.mapMutex.Lock()
	m, ok := l.keyMap[key]
	l.mapMutex.Unlock()
	if !ok {
		log.Errorf("ReleaseLock called on key (%s) with no mutex", key)

		return
	}

	m.Unlock()
}

func (l *KeyLocker) WithLock(key string, f func() error) error {
	l.AcquireLock(key)
	defer l.ReleaseLock(key)
	return f()
}
