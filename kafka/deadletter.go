package kafka

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
)

const (
	HeaderDeadLetterReason   = "x-dead-letter-reason"
	HeaderDeadLetterAttempts = "x-dead-letter-attempts"
	HeaderOriginalTopic      = "x-original-topic"
	HeaderOriginalPartition  = "x-original-partition"
	HeaderOriginalOffset     = "x-original-offset"
)

// DeadLetterSink parks messages that could not be processed.
type DeadLetterSink interface {
	SendDeadLetter(ctx context.Context, msg *sarama.ConsumerMessage, attempts int, reason error) error
}

type deadLetter struct {
	topic   string
	headers []sarama.RecordHeader
}

// newDeadLetter keeps the original headers (trace context included) and
// appends where the message came from and why it was parked.
func newDeadLetter(msg *sarama.ConsumerMessage, suffix string, attempts int, reason error) deadLetter {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+5)
	for _, h := range msg.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}

	why := "unknown"
	if reason != nil {
		why = reason.Error()
	}

	headers = append(headers,
		sarama.RecordHeader{Key: []byte(HeaderDeadLetterReason), Value: []byte(why)},
		sarama.RecordHeader{Key: []byte(HeaderDeadLetterAttempts), Value: []byte(strconv.Itoa(attempts))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(msg.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderOriginalPartition), Value: []byte(strconv.FormatInt(int64(msg.Partition), 10))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalOffset), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)

	return deadLetter{topic: msg.Topic + suffix, headers: headers}
}
