package event

import "github.com/0m3kk/eventlog/eventsrc"

// User events.
const (
	UserCreatedEventType      = "UserCreated"
	UserNameUpdatedEventType  = "UserNameUpdated"
	UserEmailUpdatedEventType = "UserEmailUpdated"
	UserDeactivatedEventType  = "UserDeactivated"
)

// Account events.
const (
	AccountOpenedEventType  = "AccountOpened"
	MoneyDepositedEventType = "MoneyDeposited"
	MoneyWithdrawnEventType = "MoneyWithdrawn"
)

// UserEventTypes lists what the user projection consumes.
var UserEventTypes = []string{
	UserCreatedEventType,
	UserNameUpdatedEventType,
	UserEmailUpdatedEventType,
	UserDeactivatedEventType,
}

func UserCreated(name, email string) eventsrc.Payload {
	return eventsrc.Payload{"name": name, "email": email}
}

func UserNameUpdated(name string) eventsrc.Payload {
	return eventsrc.Payload{"name": name}
}

// UserEmailUpdated writes schema 2, which adds the verification flag.
// Schema 1 payloads carry only the email.
func UserEmailUpdated(email string, verified bool) eventsrc.Payload {
	return eventsrc.Payload{eventsrc.SchemaVersionKey: 2, "email": email, "verified": verified}
}

func UserDeactivated(reason string) eventsrc.Payload {
	return eventsrc.Payload{"reason": reason}
}

func AccountOpened(owner string) eventsrc.Payload {
	return eventsrc.Payload{"owner": owner}
}

func MoneyDeposited(amount int64) eventsrc.Payload {
	return eventsrc.Payload{"amount": amount}
}

func MoneyWithdrawn(amount int64) eventsrc.Payload {
	return eventsrc.Payload{"amount": amount}
}

// TopicFor routes sample events to broker topics.
func TopicFor(eventType string) string {
	switch eventType {
	case UserCreatedEventType, UserNameUpdatedEventType, UserEmailUpdatedEventType, UserDeactivatedEventType:
		return "users"
	case AccountOpenedEventType, MoneyDepositedEventType, MoneyWithdrawnEventType:
		return "accounts"
	}
	return ""
}
