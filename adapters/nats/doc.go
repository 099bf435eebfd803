// Package nats connects the runtime to NATS. [KvStore] implements the
// ports/kv store on top of a JetStream key/value bucket; the object store
// uses it to checkpoint state that must survive a restart.
//
// [Comm] is a communication layer for actors that reach each other through
// a NATS server instead of direct connections. Peers are addressed as
// nats:<peer id>.
package nats
