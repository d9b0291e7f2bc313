package framework

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultInterval is the iteration interval of a Loop without Interval.
const DefaultInterval = 100 * time.Millisecond

// Loop runs controllers cooperatively at fixed intervals, or sooner when
// triggered or when a scheduled deadline expires. All controllers of one
// Loop run on the same goroutine.
type Loop struct {
	Interval time.Duration

	controllers [PriorityLevels][]Controller
	runners     []Runnable

	lock      sync.Mutex
	messages  []Message
	deadlines map[string]*deadline

	wakeUpCh chan struct{}
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type deadline struct {
	at    time.Time
	timer *time.Timer
}

type loopCtl struct {
	*Loop
}

type loopIteration struct {
	loopCtl
	ctx           context.Context
	time          time.Time
	priorityLevel int
	messages      []Message
	pending       map[string]bool
}

type messageContext struct {
	msg   Message
	taken bool
}

func (c *messageContext) CurrentMessage() Message { return c.msg }
func (c *messageContext) MessageTaken()           { c.taken = true }

var (
	loopCtxKey = &Loop{}
)

// LoopCtlFrom gets LoopControl from the context given to the runnables
// and iterations of a Loop.
func LoopCtlFrom(ctx context.Context) LoopControl {
	return ctx.Value(loopCtxKey).(LoopControl)
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers to the loop. Controllers which
// are also Runnable are started with the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	l.controllers[priorityLevel] = append(l.controllers[priorityLevel], ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable. Runnables receive a context carrying the
// LoopControl and are waited for before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}

	runner := NewRunnerWith(context.WithValue(ctx, loopCtxKey, &loopCtl{l}))
	runner.Go(l.runners...)
	defer runner.Wait()
	defer l.dropDeadlines()

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.runIteration(ctx)
		case <-l.wakeUpCh:
			l.runIteration(ctx)
		}
	}
}

// PostMessage implements LoopControl.
func (l *Loop) PostMessage(msg Message) {
	l.lock.Lock()
	l.messages = append(l.messages, msg)
	l.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// ScheduleAt implements LoopControl.
func (l *Loop) ScheduleAt(key string, at time.Time) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.deadlines == nil {
		l.deadlines = make(map[string]*deadline)
	}
	if d, ok := l.deadlines[key]; ok {
		d.timer.Stop()
	}
	l.deadlines[key] = &deadline{at: at, timer: time.AfterFunc(time.Until(at), l.TriggerNext)}
}

// Unschedule implements LoopControl.
func (l *Loop) Unschedule(key string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if d, ok := l.deadlines[key]; ok {
		d.timer.Stop()
		delete(l.deadlines, key)
	}
}

// Deadline returns the pending deadline of key.
func (l *Loop) Deadline(key string) (time.Time, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if d, ok := l.deadlines[key]; ok {
		return d.at, true
	}
	return time.Time{}, false
}

func (l *Loop) dropDeadlines() {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, d := range l.deadlines {
		d.timer.Stop()
	}
	l.deadlines = nil
}

// expireDeadlines must be called with lock held. It returns the keys
// still pending at now.
func (l *Loop) expireDeadlines(now time.Time) map[string]bool {
	pending := make(map[string]bool, len(l.deadlines))
	for key, d := range l.deadlines {
		if now.Before(d.at) {
			pending[key] = true
			continue
		}
		d.timer.Stop()
		delete(l.deadlines, key)
	}
	return pending
}

func (l *Loop) runIteration(ctx context.Context) {
	iter := &loopIteration{loopCtl: loopCtl{l}, time: time.Now()}
	l.lock.Lock()
	iter.messages, l.messages = l.messages, nil
	iter.pending = l.expireDeadlines(iter.time)
	l.lock.Unlock()
	iter.ctx = context.WithValue(ctx, loopCtxKey, iter)
	for lv := range l.controllers {
		iter.priorityLevel = lv
		for _, ctl := range l.controllers[lv] {
			if err := ctl.Control(iter); err != nil {
				glog.Errorf("controller %s: %v", controllerName(ctl, lv), err)
			}
		}
	}
}

func controllerName(ctl Controller, lv int) string {
	if named, ok := ctl.(Named); ok {
		return named.Name()
	}
	return "at priority " + strconv.Itoa(lv)
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) PriorityLevel() int {
	return t.priorityLevel
}

func (t *loopIteration) Messages() MessageStore {
	return t
}

func (t *loopIteration) Due(key string) bool {
	return !t.pending[key]
}

func (t *loopIteration) ProcessMessages(proc MessageProcessor) {
	remains := t.messages[:0]
	for _, msg := range t.messages {
		mctx := &messageContext{msg: msg}
		proc.ProcessMessage(mctx)
		if !mctx.taken {
			remains = append(remains, msg)
		}
	}
	for n := len(remains); n < len(t.messages); n++ {
		t.messages[n] = nil
	}
	t.messages = remains
}
