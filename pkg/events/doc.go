// Package events provides a lightweight in-process pub/sub broker for
// service lifecycle and model-download events. The orchestrator
// publishes; the API server's event stream and the CLI status watcher
// subscribe. Delivery is best effort: a subscriber that falls behind
// drops events instead of blocking the publisher.
package events
