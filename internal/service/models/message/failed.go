package message

// FailedMessage pairs a message that failed at least one delivery with
// its attempt count, for monitoring.
type FailedMessage struct {
	Message Message
	Count   int
}
