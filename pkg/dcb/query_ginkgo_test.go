package dcb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

var _ = Describe("Query", func() {
	BeforeEach(func() {
		_, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: "o-10"}, {Key: "customer_id", Value: "c-1"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderShipped", Tags: []dcb.Tag{{Key: "order_id", Value: "o-10"}}},
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: "o-11"}, {Key: "customer_id", Value: "c-2"}}},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("matches on exact tag equality", func() {
		events, err := store.Query(suiteCtx, dcb.NewQuery(dcb.NewQueryItem(nil, dcb.Exact("order_id", "o-10"))), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
	})

	It("matches on key presence regardless of value", func() {
		events, err := store.Query(suiteCtx, dcb.NewQuery(dcb.NewQueryItem(nil, dcb.KeyPresent("customer_id"))), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
	})

	It("combines event types and tags as a conjunction within one item", func() {
		events, err := store.Query(suiteCtx, dcb.NewQuery(dcb.NewQueryItem([]string{"OrderShipped"}, dcb.Exact("order_id", "o-10"))), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Type).To(Equal("OrderShipped"))
	})

	It("combines multiple items as a disjunction", func() {
		events, err := store.Query(suiteCtx, dcb.NewQuery(
			dcb.NewQueryItem(nil, dcb.Exact("order_id", "o-10")),
			dcb.NewQueryItem(nil, dcb.Exact("order_id", "o-11")),
		), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(3))
	})

	It("returns events strictly after the given cursor", func() {
		all, err := store.Query(suiteCtx, dcb.QueryAll(), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(3))

		after := dcb.Cursor{Position: all[0].Position, TransactionID: all[0].TransactionID}
		rest, err := store.Query(suiteCtx, dcb.QueryAll(), after)
		Expect(err).NotTo(HaveOccurred())
		Expect(rest).To(HaveLen(2))
	})

	It("bounds results with QueryLimited", func() {
		events, err := store.QueryLimited(suiteCtx, dcb.QueryAll(), dcb.Cursor{}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
	})

	It("streams every matching event on QueryStream", func() {
		out, errc := store.QueryStream(suiteCtx, dcb.QueryAll(), dcb.Cursor{})
		var seen []dcb.Event
		for e := range out {
			seen = append(seen, e)
		}
		Expect(<-errc).NotTo(HaveOccurred())
		Expect(seen).To(HaveLen(3))
	})
})

var _ = Describe("Project", func() {
	It("folds matching events into projector state and reports the highest cursor observed", func() {
		orderID := "o-20"
		_, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		})
		Expect(err).NotTo(HaveOccurred())
		outcome, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderLineAdded", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		})
		Expect(err).NotTo(HaveOccurred())

		projector := dcb.StateProjector{
			ID:           "line_count",
			Query:        dcb.NewQuery(dcb.NewQueryItem([]string{"OrderLineAdded"}, dcb.Exact("order_id", orderID))),
			InitialState: 0,
			TransitionFn: func(state any, e dcb.Event) any { return state.(int) + 1 },
		}
		states, cursor, err := store.Project(suiteCtx, []dcb.StateProjector{projector}, dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(states["line_count"]).To(Equal(1))
		Expect(cursor).To(Equal(outcome.Cursor))
	})

	It("rejects an empty projector set", func() {
		_, _, err := store.Project(suiteCtx, nil, dcb.Cursor{})
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsInvalidInput(err)).To(BeTrue())
	})
})
