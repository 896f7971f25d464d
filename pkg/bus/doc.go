// Package bus provides named, lazily-created FIFO queues for inter-stage
// signaling. It is a general-purpose primitive: the core pipeline does not
// depend on it, control-plane consumers do.
package bus
