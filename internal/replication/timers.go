package replication

// timer 由 tick 驱动的周期定时器
type timer struct {
	interval float64
	next     float64
	fire     func(now float64)
}

// timerSet 引擎拥有的定时器集合，Close 时整体取消
type timerSet struct {
	timers map[string]*timer
	closed bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*timer)}
}

// every 注册或替换定时器，interval <= 0 表示取消
func (s *timerSet) every(name string, interval, now float64, fire func(now float64)) {
	if s.closed {
		return
	}
	if interval <= 0 {
		delete(s.timers, name)
		return
	}
	s.timers[name] = &timer{interval: interval, next: now + interval, fire: fire}
}

// restart 从 now 起重新计时
func (s *timerSet) restart(name string, now float64) {
	if t, ok := s.timers[name]; ok {
		t.next = now + t.interval
	}
}

func (s *timerSet) active(name string) bool {
	_, ok := s.timers[name]
	return ok
}

// advance 触发所有到期的定时器。一次 tick 内同一个定时器最多触发一次
func (s *timerSet) advance(now float64) {
	if s.closed {
		return
	}
	for _, t := range s.timers {
		if now >= t.next {
			t.next = now + t.interval
			t.fire(now)
		}
	}
}

func (s *timerSet) close() {
	s.closed = true
	s.timers = nil
}
