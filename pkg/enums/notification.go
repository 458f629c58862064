package enums

import "fmt"

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypePaymentApproved  NotificationType = "payment_approved"
	NotificationTypePaymentRejected  NotificationType = "payment_rejected"
	NotificationTypePaymentCancelled NotificationType = "payment_cancelled"
	NotificationTypeSalePending      NotificationType = "sale_pending"
	NotificationTypeOrderUpdate      NotificationType = "order_update"
	NotificationTypeFundsReleased    NotificationType = "funds_released"
	NotificationTypeOrderRefunded    NotificationType = "order_refunded"
	NotificationTypeWithdrawalUpdate NotificationType = "withdrawal_update"
	NotificationTypeAdminAlert       NotificationType = "admin_alert"
)

var validNotificationTypes = []NotificationType{
	NotificationTypePaymentApproved,
	NotificationTypePaymentRejected,
	NotificationTypePaymentCancelled,
	NotificationTypeSalePending,
	NotificationTypeOrderUpdate,
	NotificationTypeFundsReleased,
	NotificationTypeOrderRefunded,
	NotificationTypeWithdrawalUpdate,
	NotificationTypeAdminAlert,
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationAudience separates user inbox rows from back-office alerts.
type NotificationAudience string

const (
	NotificationAudienceUser  NotificationAudience = "user"
	NotificationAudienceAdmin NotificationAudience = "admin"
)

func (a NotificationAudience) IsValid() bool {
	return a == NotificationAudienceUser || a == NotificationAudienceAdmin
}

func ParseNotificationAudience(value string) (NotificationAudience, error) {
	a := NotificationAudience(value)
	if !a.IsValid() {
		return "", fmt.Errorf("invalid notification audience %q", value)
	}
	return a, nil
}
