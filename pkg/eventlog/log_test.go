package eventlog_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gmeasure"

	"github.com/kralicky/voicebox/pkg/eventlog"
	"github.com/kralicky/voicebox/pkg/tasks"
)

func line(seq int) tasks.Event {
	return tasks.Event{
		Category: "test",
		RunID:    "run",
		Seq:      uint64(seq),
		Stream:   tasks.StreamOutput,
		Text:     fmt.Sprint(seq),
	}
}

func sentinel(seq int) tasks.Event {
	return tasks.Event{
		Category: "test",
		RunID:    "run",
		Seq:      uint64(seq),
		Stream:   tasks.StreamTerminal,
		Text:     "[completed]",
		Sentinel: tasks.SentinelCompleted,
	}
}

func drain(ch <-chan tasks.Event) []tasks.Event {
	var out []tasks.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

var _ = Describe("Log", func() {
	When("appending events", func() {
		It("should succeed and not block", func() {
			l := eventlog.New()
			for i := range 1000 {
				Expect(l.Emit(line(i))).To(Succeed())
			}
			Expect(l.Len()).To(Equal(1000))
		})
		It("should deliver events in the order they were appended", func(ctx SpecContext) {
			l := eventlog.New()
			r1 := l.Stream(ctx)
			for i := range 1000 {
				Expect(l.Emit(line(i))).To(Succeed())
			}
			r2 := l.Stream(ctx)
			Expect(l.Emit(sentinel(1000))).To(Succeed())

			events1 := drain(r1)
			events2 := drain(r2)
			Expect(events1).To(Equal(events2))
			Expect(events1).To(HaveLen(1001))
			for i, ev := range events1 {
				Expect(ev.Seq).To(BeEquivalentTo(i))
			}
			Expect(events1[1000].IsTerminal()).To(BeTrue())
		})
		It("should duplicate events to all streams", func(ctx SpecContext) {
			l := eventlog.New()
			results := make([][]tasks.Event, 100)
			var wg sync.WaitGroup
			wg.Add(100)
			for i := range 100 {
				go func() {
					defer wg.Done()
					results[i] = drain(l.Stream(ctx))
				}()
			}
			Expect(l.Emit(line(0))).To(Succeed())
			Expect(l.Emit(line(1))).To(Succeed())
			Expect(l.Emit(sentinel(2))).To(Succeed())
			wg.Wait()
			for _, result := range results {
				Expect(result).To(Equal([]tasks.Event{line(0), line(1), sentinel(2)}))
			}
		})
		It("should handle many concurrent readers", func(ctx SpecContext) {
			numReaders := 50
			total := 20000
			l := eventlog.New()
			bench := gmeasure.NewExperiment("benchmark")
			AddReportEntry(bench.Name, bench)

			counts := make([]int, numReaders)
			var wg sync.WaitGroup
			wg.Add(numReaders)
			for i := range numReaders {
				r := l.Stream(ctx)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					start := time.Now()
					n := 0
					for ev := range r {
						Expect(ev.Seq).To(BeEquivalentTo(n))
						n++
					}
					bench.RecordValue("per-stream read rate", float64(n)/time.Since(start).Seconds(), gmeasure.Units("events/s"))
					counts[i] = n
				}()
			}
			for i := range total {
				Expect(l.Emit(line(i))).To(Succeed())
			}
			Expect(l.Emit(sentinel(total))).To(Succeed())
			wg.Wait()
			for _, n := range counts {
				Expect(n).To(Equal(total + 1))
			}
		})
	})
	Specify("slow readers should not block fast readers", func(ctx SpecContext) {
		l := eventlog.New()
		fast := l.Stream(ctx)
		slow := l.Stream(ctx)

		slowC := make(chan []tasks.Event)
		go func() {
			var out []tasks.Event
			for ev := range slow {
				out = append(out, ev)
				time.Sleep(time.Millisecond)
			}
			slowC <- out
		}()

		for i := range 500 {
			Expect(l.Emit(line(i))).To(Succeed())
		}
		Expect(l.Emit(sentinel(500))).To(Succeed())

		fastRead := drain(fast)
		Expect(fastRead).To(HaveLen(501))
		Consistently(slowC, 10*time.Millisecond).ShouldNot(Receive())

		var slowRead []tasks.Event
		Eventually(slowC, 5*time.Second).Should(Receive(&slowRead))
		Expect(slowRead).To(Equal(fastRead))
	})
	When("canceling the context of a stream", func() {
		It("should stop receiving events", func(ctx SpecContext) {
			l := eventlog.New()
			reader := l.Stream(ctx)
			cctx, ca := context.WithCancel(ctx)
			cancelReader := l.Stream(cctx)

			Expect(l.Emit(line(0))).To(Succeed())

			Eventually(reader).Should(Receive(Equal(line(0))))
			Eventually(cancelReader).Should(Receive(Equal(line(0))))

			ca()
			Eventually(cancelReader).Should(BeClosed())

			Expect(l.Emit(line(1))).To(Succeed())
			Eventually(reader).Should(Receive(Equal(line(1))))
			Expect(l.Close()).To(Succeed())
			Eventually(reader).Should(BeClosed())
		})
	})
	When("a sentinel is appended", func() {
		It("should close the log", func() {
			l := eventlog.New()
			Expect(l.Emit(sentinel(0))).To(Succeed())
			Expect(l.Done()).To(BeClosed())
			Expect(l.Emit(line(1))).To(MatchError(eventlog.ErrClosed))
		})
		It("should replay everything to streams created afterwards", func(ctx SpecContext) {
			l := eventlog.New()
			Expect(l.Emit(line(0))).To(Succeed())
			Expect(l.Emit(line(1))).To(Succeed())
			Expect(l.Emit(sentinel(2))).To(Succeed())

			reader := l.Stream(ctx)
			Eventually(reader).Should(Receive(Equal(line(0))))
			Eventually(reader).Should(Receive(Equal(line(1))))
			Eventually(reader).Should(Receive(Equal(sentinel(2))))
			Eventually(reader).Should(BeClosed())
			Expect(l.Events()).To(HaveLen(3))
		})
	})
	When("the log is already closed", func() {
		It("should be a no-op", func() {
			l := eventlog.New()
			Expect(l.Close()).To(Succeed())
			Expect(l.Close()).To(Succeed())
		})
	})
})
