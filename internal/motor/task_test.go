package motor

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/shiwa/lockstep/internal/clock"
	"github.com/shiwa/lockstep/internal/schedule"
)

// hookQueue вызывает onPeek перед каждым Peek.
type hookQueue struct {
	*schedule.Queue
	peeks  int
	onPeek func(n int)
}

func (h *hookQueue) Peek() (schedule.Event, bool) {
	h.peeks++
	if h.onPeek != nil {
		h.onPeek(h.peeks)
	}
	return h.Queue.Peek()
}

var _ = Describe("Task", func() {
	const start = uint64(1_000_000)

	var (
		mockCtrl *gomock.Controller
		sink     *MockSink
		rec      *MockRecorder
		q        *schedule.Queue
		clk      *clock.Fake
		task     *Task
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = NewMockSink(mockCtrl)
		rec = NewMockRecorder(mockCtrl)
		q = schedule.New(schedule.DefaultCapacity, nil)
		clk = clock.NewFake(start)
		task = New(q, sink, clk,
			WithSleeper(clk),
			WithYield(func() { clk.AdvanceMicros(100) }),
			WithRecorder(rec),
		)
		q.SetNotifier(task)
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		mockCtrl.Finish()
	})

	Context("when the queue is empty", func() {
		It("should stay idle until notified", func() {
			task.Notify()
			Expect(task.step(ctx)).To(Succeed())
			Expect(task.State()).To(Equal(Idle))
		})

		It("should return when the context is cancelled", func() {
			cancel()
			Expect(task.step(ctx)).To(MatchError(context.Canceled))
		})

		It("should not block on repeated notify", func() {
			task.Notify()
			task.Notify()
			task.Notify()
		})
	})

	Context("when an event is overdue", func() {
		It("should execute it immediately and record lateness", func() {
			Expect(q.Enqueue(start-100, 0, 80, 10, 250)).To(Succeed())

			gomock.InOrder(
				sink.EXPECT().PreSelected().Return(-1),
				sink.EXPECT().SetFrequency(uint8(0), uint16(250)).Return(nil),
				sink.EXPECT().Activate(uint8(0), uint8(80)).Return(nil),
				rec.EXPECT().RecordDrift(schedule.Activate, uint8(0), int64(100)),
			)

			Expect(task.step(ctx)).To(Succeed())
			Expect(task.State()).To(Equal(Armed))
			Expect(task.Executed()).To(Equal(uint64(1)))
			Expect(q.Len()).To(Equal(1))
		})
	})

	Context("when an event is far in the future", func() {
		It("should sleep coarsely, then busy-wait to the exact due time", func() {
			due := start + 10_000
			Expect(q.Enqueue(due, 2, 60, 10, 200)).To(Succeed())

			Expect(task.step(ctx)).To(Succeed())
			Expect(clk.Sleeps()).To(Equal(1))
			Expect(clk.Micros()).To(Equal(due - 1000))

			gomock.InOrder(
				sink.EXPECT().PreSelected().Return(-1),
				sink.EXPECT().SetFrequency(uint8(2), uint16(200)).Return(nil),
				sink.EXPECT().Activate(uint8(2), uint8(60)).Return(nil),
				rec.EXPECT().RecordDrift(schedule.Activate, uint8(2), int64(0)),
			)
			Expect(task.step(ctx)).To(Succeed())
			Expect(clk.Sleeps()).To(Equal(1))
			Expect(clk.Micros()).To(Equal(due))
		})

		It("should wake early when notified", func() {
			Expect(q.Enqueue(start+50_000, 0, 60, 10, 250)).To(Succeed())
			task.Notify()

			Expect(task.step(ctx)).To(Succeed())
			Expect(clk.Micros()).To(Equal(start), "прерванный сон не сдвигает время")
		})

		It("should stop busy-waiting when the context is cancelled", func() {
			Expect(q.Enqueue(start+500, 0, 60, 10, 250)).To(Succeed())
			task.yield = cancel

			Expect(task.step(ctx)).To(MatchError(context.Canceled))
			Expect(q.Len()).To(Equal(2))
		})
	})

	Context("when an earlier event arrives before the busy-wait", func() {
		It("should re-loop instead of waiting for the stale event", func() {
			hq := &hookQueue{Queue: q}
			hq.onPeek = func(n int) {
				if n == 2 {
					Expect(q.Enqueue(start-10, 3, 40, 10, 250)).To(Succeed())
				}
			}
			task.q = hq
			Expect(q.Enqueue(start+1500, 1, 60, 10, 250)).To(Succeed())

			Expect(task.step(ctx)).To(Succeed())
			Expect(clk.Micros()).To(Equal(start), "busy-wait не начинался")

			sink.EXPECT().PreSelected().Return(-1)
			sink.EXPECT().SetFrequency(uint8(3), uint16(250)).Return(nil)
			sink.EXPECT().Activate(uint8(3), uint8(40)).Return(nil)
			rec.EXPECT().RecordDrift(schedule.Activate, uint8(3), int64(10))
			Expect(task.step(ctx)).To(Succeed())
		})
	})

	Context("when a pulse is deactivated", func() {
		It("should pre-select the next activation and use the fast path", func() {
			Expect(q.Enqueue(start, 0, 80, 10, 250)).To(Succeed())
			Expect(q.Enqueue(start+20_000, 1, 70, 10, 180)).To(Succeed())
			clk.Set(start + 10_000)

			gomock.InOrder(
				sink.EXPECT().PreSelected().Return(-1),
				sink.EXPECT().SetFrequency(uint8(0), uint16(250)).Return(nil),
				sink.EXPECT().Activate(uint8(0), uint8(80)).Return(nil),
				rec.EXPECT().RecordDrift(schedule.Activate, uint8(0), int64(10_000)),
				sink.EXPECT().Deactivate(uint8(0)).Return(nil),
				rec.EXPECT().RecordDrift(schedule.Deactivate, uint8(0), int64(0)),
				sink.EXPECT().PreSelect(uint8(1), uint16(180)).Return(nil),
				sink.EXPECT().PreSelected().Return(1),
				sink.EXPECT().ActivatePreSelected(uint8(1), uint8(70)).Return(nil),
				rec.EXPECT().RecordDrift(schedule.Activate, uint8(1), int64(0)),
			)

			Expect(task.step(ctx)).To(Succeed())
			Expect(task.step(ctx)).To(Succeed())
			clk.Set(start + 20_000)
			Expect(task.step(ctx)).To(Succeed())
			Expect(task.Executed()).To(Equal(uint64(3)))
		})
	})

	Context("when the sink fails", func() {
		It("should count the failure and still record drift", func() {
			Expect(q.Enqueue(start, 0, 80, 10, 250)).To(Succeed())

			sink.EXPECT().PreSelected().Return(-1)
			sink.EXPECT().SetFrequency(uint8(0), uint16(250)).Return(errors.New("i2c nack"))
			rec.EXPECT().RecordDrift(schedule.Activate, uint8(0), int64(0))

			Expect(task.step(ctx)).To(Succeed())
			Expect(task.Failures()).To(Equal(uint64(1)))
		})
	})

	Context("when running", func() {
		It("should execute a whole armed batch and stop on cancel", func() {
			clk.SetStep(50)
			sink.EXPECT().PreSelected().Return(-1).AnyTimes()
			sink.EXPECT().SetFrequency(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
			sink.EXPECT().Activate(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
			sink.EXPECT().Deactivate(gomock.Any()).Return(nil).AnyTimes()
			sink.EXPECT().PreSelect(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
			rec.EXPECT().RecordDrift(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

			done := make(chan error, 1)
			go func() { done <- task.Run(ctx) }()

			Expect(q.Enqueue(clk.Micros()+5_000, 0, 80, 20, 250)).To(Succeed())
			Expect(q.Enqueue(clk.Micros()+8_000, 1, 80, 20, 250)).To(Succeed())
			q.NotifyConsumer()

			Eventually(task.Executed).Should(Equal(uint64(4)))
			Eventually(task.State).Should(Equal(Idle))
			Expect(q.IsComplete()).To(BeTrue())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})

var _ = Describe("State", func() {
	It("should print its name", func() {
		Expect(Idle.String()).To(Equal("IDLE"))
		Expect(Armed.String()).To(Equal("ARMED"))
	})
})
