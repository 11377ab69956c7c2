package kafka

import (
	"errors"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"ms-validation/internal/config"
	"ms-validation/internal/logger"
)

// TopicNames lists every topic the service reads or writes.
func TopicNames(topics config.TopicConfig) []string {
	return []string{topics.TicketValidated, topics.SyncCompleted, topics.OfflineBatches, topics.ValidationConflicts}
}

// EnsureTopicsExist creates Kafka topics if they don't already exist
func EnsureTopicsExist(brokers []string, topics []string, log *logger.Logger) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		})
		switch {
		case err == nil:
			log.LogKafka("CREATE_TOPIC", topic, "created")
		case errors.Is(err, kafka.TopicAlreadyExists):
			log.Debug("KAFKA", "topic "+topic+" already exists")
		default:
			// keep going, the remaining topics may still succeed
			log.Warn("KAFKA", "error creating topic "+topic+": "+err.Error())
		}
	}
	return nil
}
