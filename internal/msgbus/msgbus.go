// Package msgbus is the live-messaging fan-out: at-most-once JSON delivery
// to every current subscriber of a topic, no persistence, no replay.
package msgbus

import "context"

// Subscription is a lazy, infinite stream of payloads arriving after the
// call to Subscribe. The caller owns it and must call Close to release the
// underlying resources (a Redis pub/sub connection, or an in-memory channel
// registration).
type Subscription interface {
	Chan() <-chan []byte
	Close() error
}

// Bus is the message-bus contract. Topics are implicit and string
// namespaced (user:<id>, group:<id>, party:<id>); no registration is
// required before Send.
type Bus interface {
	Send(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}
