package orders

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/trademon/trademon-backend/internal/notifications"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

// DedupKey identifies the notification produced when order reaches state.
func DedupKey(orderID uuid.UUID, state enums.OrderState) string {
	return fmt.Sprintf("order:%s:%s", orderID, state)
}

func orderLink(orderID uuid.UUID) string {
	return "/orders/" + orderID.String()
}

// notificationsFor returns the messages owed to each party once step commits.
func notificationsFor(order *models.Order, step Step) []notifications.Message {
	key := DedupKey(order.ID, step.To)
	link := orderLink(order.ID)
	to := func(user uuid.UUID, kind enums.NotificationType, title, body string) notifications.Message {
		return notifications.Message{
			UserID:   user,
			Audience: enums.NotificationAudienceUser,
			Type:     kind,
			Title:    title,
			Body:     body,
			Link:     link,
			DedupKey: key,
		}
	}

	switch step.To {
	case enums.OrderStateAwaitingSeller:
		return []notifications.Message{
			to(order.BuyerID, enums.NotificationTypePaymentApproved, "Payment approved",
				"Your payment was approved. The seller has been asked to accept the order."),
			to(order.SellerID, enums.NotificationTypeSalePending, "New sale",
				"A buyer paid for your listing. Accept the order to start the delivery."),
		}
	case enums.OrderStateSellerAccepted:
		return []notifications.Message{
			to(order.BuyerID, enums.NotificationTypeOrderUpdate, "Order accepted", "The seller accepted your order."),
		}
	case enums.OrderStateDeliverySubmitted:
		return []notifications.Message{
			to(order.BuyerID, enums.NotificationTypeOrderUpdate, "Delivery submitted",
				"The seller marked your order as delivered. Confirm once you received it."),
		}
	case enums.OrderStateInReview:
		return []notifications.Message{
			to(order.SellerID, enums.NotificationTypeOrderUpdate, "Delivery confirmed",
				"The buyer confirmed the delivery. The order is under review."),
		}
	case enums.OrderStateDispute:
		msgs := []notifications.Message{
			to(order.BuyerID, enums.NotificationTypeOrderUpdate, "Order in dispute", "A moderator will review this order."),
			to(order.SellerID, enums.NotificationTypeOrderUpdate, "Order in dispute", "A moderator will review this order."),
		}
		if step.Event == enums.OrderEventDisputeOpened {
			msgs = append(msgs, notifications.AdminAlert(
				"Dispute opened",
				fmt.Sprintf("Order %s was moved to dispute from %s.", order.ID, step.From),
				key,
			))
		}
		return msgs
	case enums.OrderStateCompleted:
		return []notifications.Message{
			to(order.SellerID, enums.NotificationTypeFundsReleased, "Funds released",
				"The order is complete and the proceeds are now available in your wallet."),
			to(order.BuyerID, enums.NotificationTypeOrderUpdate, "Order completed", "Your order is complete."),
		}
	case enums.OrderStateCancelled:
		if step.Event == enums.OrderEventPaymentCancelled {
			return []notifications.Message{
				to(order.BuyerID, enums.NotificationTypePaymentCancelled, "Payment cancelled",
					"Your payment was cancelled and the order was closed."),
			}
		}
		msgs := []notifications.Message{
			to(order.BuyerID, enums.NotificationTypeOrderUpdate, "Order cancelled", "This order was cancelled."),
		}
		if step.From != enums.OrderStatePendingPayment {
			msgs = append(msgs, to(order.SellerID, enums.NotificationTypeOrderUpdate, "Order cancelled", "This order was cancelled."))
		}
		return msgs
	case enums.OrderStateRefunded:
		return []notifications.Message{
			to(order.BuyerID, enums.NotificationTypeOrderRefunded, "Order refunded", "Your payment is being refunded."),
			to(order.SellerID, enums.NotificationTypeOrderUpdate, "Order refunded", "This order was refunded to the buyer."),
		}
	}
	return nil
}
