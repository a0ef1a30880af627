package dcb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

var _ = Describe("AppendIf", func() {
	It("assigns a cursor on an unconditional append", func() {
		outcome, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: "o-1"}}, Data: []byte(`{}`)},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Cursor.Position).To(BeNumerically(">", 0))
		Expect(outcome.Idempotent).To(BeFalse())
	})

	It("assigns the same transaction id to every event in a batch", func() {
		outcome, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: "o-2"}}},
			{Type: "OrderLineAdded", Tags: []dcb.Tag{{Key: "order_id", Value: "o-2"}}},
		})
		Expect(err).NotTo(HaveOccurred())

		events, err := store.Query(suiteCtx, dcb.NewQuery(dcb.NewQueryItem(nil, dcb.Exact("order_id", "o-2"))), dcb.Cursor{})
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(2))
		Expect(events[0].TransactionID).To(Equal(events[1].TransactionID))
		Expect(events[0].TransactionID).To(Equal(outcome.Cursor.TransactionID))
	})

	It("fails a conditional append when fail_if_events_match is already satisfied", func() {
		orderID := "o-3"
		condition := dcb.AppendCondition{
			FailIfEventsMatch: dcb.NewQuery(dcb.NewQueryItem([]string{"OrderPlaced"}, dcb.Exact("order_id", orderID))),
		}
		_, err := store.AppendIf(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		}, condition)
		Expect(err).NotTo(HaveOccurred())

		_, err = store.AppendIf(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		}, condition)
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsConcurrencyViolation(err)).To(BeTrue())
	})

	It("does not conflict on events before AfterCursor", func() {
		orderID := "o-4"
		first, err := store.Append(suiteCtx, []dcb.InputEvent{
			{Type: "OrderPlaced", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		})
		Expect(err).NotTo(HaveOccurred())

		condition := dcb.AppendCondition{
			FailIfEventsMatch: dcb.NewQuery(dcb.NewQueryItem([]string{"OrderPlaced"}, dcb.Exact("order_id", orderID))),
			AfterCursor:       first.Cursor,
		}
		_, err = store.AppendIf(suiteCtx, []dcb.InputEvent{
			{Type: "OrderCancelled", Tags: []dcb.Tag{{Key: "order_id", Value: orderID}}},
		}, condition)
		Expect(err).NotTo(HaveOccurred())
	})

	It("short-circuits a repeated idempotency key into an idempotent outcome", func() {
		condition := dcb.AppendCondition{
			Idempotency: &dcb.Query{Items: []dcb.QueryItem{
				dcb.NewQueryItem([]string{"PaymentCaptured"}, dcb.Exact("payment_id", "p-1")),
			}},
		}
		first, err := store.AppendIf(suiteCtx, []dcb.InputEvent{
			{Type: "PaymentCaptured", Tags: []dcb.Tag{{Key: "payment_id", Value: "p-1"}}},
		}, condition)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Idempotent).To(BeFalse())

		second, err := store.AppendIf(suiteCtx, []dcb.InputEvent{
			{Type: "PaymentCaptured", Tags: []dcb.Tag{{Key: "payment_id", Value: "p-1"}}},
		}, condition)
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsIdempotencyViolation(err)).To(BeTrue())
		Expect(second.Idempotent).To(BeTrue())
		Expect(second.Cursor).To(Equal(first.Cursor))
	})

	It("rejects an empty batch as invalid input", func() {
		_, err := store.Append(suiteCtx, nil)
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsInvalidInput(err)).To(BeTrue())
	})

	It("rejects an event with an empty type", func() {
		_, err := store.Append(suiteCtx, []dcb.InputEvent{{Type: ""}})
		Expect(err).To(HaveOccurred())
		Expect(dcb.IsInvalidInput(err)).To(BeTrue())
	})
})
