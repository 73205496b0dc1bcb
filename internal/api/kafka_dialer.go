package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"go.uber.org/zap"
)

// kafkaSecurity собирает SASL/PLAIN и TLS настройки (для Aiven).
// При SASL TLS включается всегда, без CA используются системные сертификаты
func kafkaSecurity(username, password, caCert string) (sasl.Mechanism, *tls.Config) {
	var mechanism sasl.Mechanism
	if username != "" && password != "" {
		mechanism = plain.Mechanism{
			Username: username,
			Password: password,
		}
		zap.S().Infof("🔐 Kafka: SASL/PLAIN аутентификация включена (username: %s)", username)
	}

	if mechanism == nil && caCert == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM([]byte(caCert)); ok {
			tlsConfig.RootCAs = caCertPool
			zap.S().Info("🔒 Kafka: TLS с CA сертификатом включен")
		} else {
			zap.S().Warn("⚠️ Kafka: не удалось распарсить CA сертификат, используем системные сертификаты")
		}
	} else {
		zap.S().Info("🔒 Kafka: TLS включен (системные сертификаты)")
	}
	return mechanism, tlsConfig
}

// CreateKafkaDialer создает dialer для служебных подключений к Kafka
func CreateKafkaDialer(username, password, caCert string) *kafka.Dialer {
	mechanism, tlsConfig := kafkaSecurity(username, password, caCert)
	return &kafka.Dialer{
		Timeout:       10 * time.Second,
		DualStack:     true,
		SASLMechanism: mechanism,
		TLS:           tlsConfig,
	}
}

// CreateKafkaTransport создает транспорт для kafka.Writer с теми же настройками безопасности
func CreateKafkaTransport(username, password, caCert string) *kafka.Transport {
	mechanism, tlsConfig := kafkaSecurity(username, password, caCert)
	return &kafka.Transport{
		DialTimeout: 10 * time.Second,
		SASL:        mechanism,
		TLS:         tlsConfig,
	}
}

// EnsureKafkaTopic создает топик событий через контроллер кластера, если его еще нет
func EnsureKafkaTopic(ctx context.Context, dialer *kafka.Dialer, brokers []string, topic string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения контроллера Kafka: %w", err)
	}
	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("ошибка подключения к контроллеру Kafka: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("ошибка создания топика %s: %w", topic, err)
	}
	return nil
}

// ParseKafkaBrokers парсит строку с брокерами (может быть через запятую)
func ParseKafkaBrokers(brokers string) []string {
	if brokers == "" {
		return []string{}
	}
	brokerList := strings.Split(strings.ReplaceAll(brokers, " ", ""), ",")
	var result []string
	for _, broker := range brokerList {
		if broker != "" {
			result = append(result, broker)
		}
	}
	return result
}
