// Package monitor implements the monitoring daemon. The supervisor owns
// the lifecycle of the raw message source, the relay subscription and the
// alarm engine, and routes every incoming message through the classifier.
package monitor
