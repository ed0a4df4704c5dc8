package payment

import "sync"

// Locker - мьютекс на клиента. Записи удаляются, когда блокировку никто не держит и не ждет
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock блокирует клиента и возвращает функцию разблокировки
func (l *Locker) Lock(customer string) func() {
	l.mu.Lock()
	lock, ok := l.locks[customer]
	if !ok {
		lock = &keyLock{}
		l.locks[customer] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()

			l.mu.Lock()
			lock.refs--
			if lock.refs == 0 {
				delete(l.locks, customer)
			}
			l.mu.Unlock()
		})
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
