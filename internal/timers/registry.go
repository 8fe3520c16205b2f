// Package timers содержит реестр активных таймеров терминала.
//
// Каждый таймер привязан к имени задачи (таймаут внесения денег, опрос
// QR-кода, опрос суммы, обратный отсчёт). Новый таймер с тем же именем
// всегда останавливает предыдущий, поэтому два таймера одной задачи
// одновременно не существуют.
package timers

import (
	"sync"
	"time"
)

// Name задаёт задачу, к которой привязан таймер.
type Name string

const (
	DepositTimeout Name = "deposit_timeout"
	QRPoll         Name = "qr_poll"
	AmountPoll     Name = "amount_poll"
	CountdownTick  Name = "countdown_tick"
	CountdownFire  Name = "countdown_fire"
	LoyaltyTimeout Name = "loyalty_timeout"
	PayedRetry     Name = "payed_retry"
)

type entry struct {
	gen  uint64
	stop func()
}

// Registry хранит активные таймеры по именам задач.
type Registry struct {
	mu      sync.Mutex
	entries map[Name]entry
	gen     uint64
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Name]entry)}
}

// After запускает однократный таймер. Срабатывание удаляет таймер из реестра.
func (r *Registry) After(name Name, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(name)
	r.gen++
	gen := r.gen

	t := time.AfterFunc(d, func() {
		if !r.release(name, gen) {
			return
		}
		fn()
	})
	r.entries[name] = entry{gen: gen, stop: func() { t.Stop() }}
}

// Every запускает периодический таймер. fn вызывается последовательно:
// следующий тик не начнётся, пока не завершился предыдущий. Переданная в
// fn функция stop останавливает именно этот таймер и не трогает таймер,
// запущенный на его место позже.
func (r *Registry) Every(name Name, d time.Duration, fn func(stop func())) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked(name)
	r.gen++
	gen := r.gen

	done := make(chan struct{})
	var once sync.Once
	r.entries[name] = entry{gen: gen, stop: func() { once.Do(func() { close(done) }) }}

	stop := func() { r.stopIfCurrent(name, gen) }

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if !r.current(name, gen) {
					return
				}
				fn(stop)
			}
		}
	}()
}

// Stop останавливает таймер задачи name, если он есть.
func (r *Registry) Stop(name Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(name)
}

// StopAll останавливает все таймеры.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.entries {
		r.stopLocked(name)
	}
}

// Active сообщает, запущен ли таймер задачи name.
func (r *Registry) Active(name Name) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) stopLocked(name Name) {
	if e, ok := r.entries[name]; ok {
		e.stop()
		delete(r.entries, name)
	}
}

func (r *Registry) stopIfCurrent(name Name, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok && e.gen == gen {
		r.stopLocked(name)
	}
}

func (r *Registry) current(name Name, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.gen == gen
}

func (r *Registry) release(name Name, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.gen != gen {
		return false
	}
	delete(r.entries, name)
	return true
}
