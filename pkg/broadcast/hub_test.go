package broadcast_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/voicebox/pkg/broadcast"
)

var _ = Describe("Hub", func() {
	It("should deliver published values to every subscriber", func(ctx SpecContext) {
		h := broadcast.NewHub[int]()
		a := h.Subscribe(ctx, 8)
		b := h.Subscribe(ctx, 8)
		h.Publish(1)
		h.Publish(2)
		Eventually(a).Should(Receive(Equal(1)))
		Eventually(a).Should(Receive(Equal(2)))
		Eventually(b).Should(Receive(Equal(1)))
		Eventually(b).Should(Receive(Equal(2)))
	})
	It("should not replay values published before subscribing", func(ctx SpecContext) {
		h := broadcast.NewHub[int]()
		h.Publish(1)
		a := h.Subscribe(ctx, 8)
		Consistently(a).ShouldNot(Receive())
		h.Publish(2)
		Eventually(a).Should(Receive(Equal(2)))
	})
	It("should drop the oldest values for a full subscriber without blocking", func(ctx SpecContext) {
		h := broadcast.NewHub[int]()
		slow := h.Subscribe(ctx, 2)
		fast := h.Subscribe(ctx, 16)
		for i := range 10 {
			h.Publish(i)
		}
		Expect(h.Dropped()).To(BeEquivalentTo(8))
		Eventually(slow).Should(Receive(Equal(8)))
		Eventually(slow).Should(Receive(Equal(9)))
		for i := range 10 {
			Eventually(fast).Should(Receive(Equal(i)))
		}
	})
	It("should close a subscriber's channel when its context is canceled", func(ctx SpecContext) {
		h := broadcast.NewHub[int]()
		cctx, ca := context.WithCancel(ctx)
		a := h.Subscribe(cctx, 8)
		Expect(h.Len()).To(Equal(1))
		ca()
		Eventually(a).Should(BeClosed())
		Eventually(h.Len).Should(BeZero())
		h.Publish(1)
	})
	When("the hub is closed", func() {
		It("should close all subscribers and reject new ones", func(ctx SpecContext) {
			h := broadcast.NewHub[int]()
			a := h.Subscribe(ctx, 8)
			h.Close()
			Eventually(a).Should(BeClosed())
			Eventually(h.Subscribe(ctx, 8)).Should(BeClosed())
			h.Publish(1)
			h.Close()
		})
	})
})
