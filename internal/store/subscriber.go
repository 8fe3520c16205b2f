package store

import "sync"

// subscriber доставляет снимки обработчику по порядку. Очередь
// пополняется под блокировкой Store, а обработчик вызывается в отдельной
// горутине, которая живёт, пока очередь не пуста.
type subscriber struct {
	fn func(Snapshot)

	mu      sync.Mutex
	queue   []Snapshot
	running bool
	closed  bool
}

func (s *subscriber) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.queue = append(s.queue, snap)
	if !s.running {
		s.running = true
		go s.drain()
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.queue = nil
			s.running = false
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(snap)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
