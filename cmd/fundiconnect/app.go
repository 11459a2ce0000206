package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"fundiconnect/internal/app/bookings"
	"fundiconnect/internal/config"
	"fundiconnect/internal/infrastructure/database"
	kafka_infra "fundiconnect/internal/infrastructure/kafka"
	"fundiconnect/internal/infrastructure/rabbitmq"
	redis_infra "fundiconnect/internal/infrastructure/redis"
	"fundiconnect/internal/messaging"
	"fundiconnect/internal/metrics"
	"fundiconnect/internal/outbox"
	"fundiconnect/internal/payments"
	attempt_postgres "fundiconnect/internal/repository/attempt_repo/postgres"
	booking_postgres "fundiconnect/internal/repository/booking_repo/postgres"
	inbox_postgres "fundiconnect/internal/repository/inbox_repo/postgres"
	notification_postgres "fundiconnect/internal/repository/notification_repo/postgres"
	outbox_postgres "fundiconnect/internal/repository/outbox_repo/postgres"
)

// application is constructed once per process and torn down by close.
type application struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sql.DB
	tx          *database.TxManager
	redis       *redis.Client
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	coordinator bookings.BookingCoordinator

	outbox    *outbox.Processor
	producer  kafka_infra.Producer
	rabbit    *rabbitmq.Publisher
	consumer  *kafka_infra.Consumer
	notifier  *messaging.Gateway
	closeFunc []func() error
}

func dbConfig(cfg *config.Config) database.DBConfig {
	return database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	}
}

// newApplication connects to the database and wires the coordinator with its
// gateways. Event-bus components are attached separately by withEvents.
func newApplication(cfg *config.Config, logger *zap.Logger) (*application, error) {
	a := &application{cfg: cfg, logger: logger}

	logger.Info("Waiting for database to be available...")
	db, err := database.Connect(dbConfig(cfg), cfg.DB.ConnectRetries, 5*time.Second, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.onClose("database", db.Close)
	a.tx = database.NewTxManager(db, logger.With(zap.String("component", "tx")))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.redis = redis_infra.NewClient(redis_infra.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	a.onClose("redis", a.redis.Close)

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	notificationRepository := notification_postgres.NewNotificationRepository()

	backend := messaging.SelectBackend(
		messaging.MetaConfig{
			AccessToken:   cfg.WhatsApp.AccessToken,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			APIBase:       cfg.WhatsApp.APIBase,
		},
		messaging.TwilioConfig{
			AccountSID:   cfg.Twilio.AccountSID,
			AuthToken:    cfg.Twilio.AuthToken,
			WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
			APIBase:      cfg.Twilio.APIBase,
		},
		httpClient,
	)
	if backend == nil {
		logger.Warn("No messaging backend configured, notifications will fail with provider unavailable")
	}
	a.notifier = messaging.NewGateway(
		backend,
		notificationRepository,
		db,
		messaging.GatewayConfig{Timeout: cfg.ProviderTimeout, Expiry: cfg.NotificationExpiry},
		a.metrics,
		logger.With(zap.String("component", "messaging")),
	)
	logger.Info("Messaging gateway initialized", zap.String("provider", a.notifier.Provider()))

	paymentGateway := payments.NewGateway(
		cfg.ProviderTimeout,
		a.metrics,
		logger.With(zap.String("component", "payments")),
		payments.NewPaystack(payments.PaystackConfig{
			SecretKey: cfg.Paystack.SecretKey,
			APIBase:   cfg.Paystack.APIBase,
		}, httpClient),
		payments.NewMpesa(payments.MpesaConfig{
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			Shortcode:      cfg.Mpesa.Shortcode,
			Passkey:        cfg.Mpesa.Passkey,
			APIBase:        cfg.Mpesa.APIBase,
			CallbackURL:    cfg.Mpesa.CallbackURL,
		}, httpClient, redis_infra.NewTokenCache(a.redis, "fundiconnect:"), logger.With(zap.String("component", "mpesa"))),
	)

	a.coordinator = bookings.NewCoordinator(bookings.Dependencies{
		DB:                 db,
		Tx:                 a.tx,
		Bookings:           booking_postgres.NewBookingRepository(),
		Notifications:      notificationRepository,
		Attempts:           attempt_postgres.NewAttemptRepository(),
		Inbox:              inbox_postgres.NewInboxRepository(),
		Outbox:             outbox_postgres.NewOutboxRepository(),
		Notifier:           a.notifier,
		Payments:           paymentGateway,
		Metrics:            a.metrics,
		Logger:             logger,
		MaxPaymentAttempts: cfg.MaxPaymentAttempts,
		SweepBatchSize:     cfg.SweepBatchSize,
		PaymentCallbackURL: cfg.PaymentCallbackURL,
	})
	logger.Info("Booking coordinator initialized")
	return a, nil
}

// withEvents attaches the outbox processor to the configured event bus and,
// on Kafka, the dispute resolution consumer.
func (a *application) withEvents(ctx context.Context, handler kafka_infra.MessageHandler) error {
	var publisher outbox.Publisher
	switch a.cfg.EventsBackend {
	case "rabbitmq":
		rabbit, err := rabbitmq.NewPublisher(a.cfg.Rabbit.URL, a.cfg.Rabbit.Exchange)
		if err != nil {
			return err
		}
		a.rabbit = rabbit
		a.onClose("rabbitmq publisher", rabbit.Close)
		publisher = outbox.NewRabbitPublisher(rabbit)
	default:
		topics := []string{a.cfg.Kafka.EventsTopic}
		if a.cfg.Kafka.Enabled {
			topics = append(topics, a.cfg.Kafka.DisputeTopic)
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := ensureKafkaTopics(ensureCtx, a.cfg.KafkaBrokers(), topics, a.logger); err != nil {
			return err
		}
		a.producer = kafka_infra.NewProducer(a.cfg.KafkaBrokers(), a.logger.With(zap.String("component", "kafka_producer")))
		a.onClose("kafka producer", a.producer.Close)
		publisher = outbox.NewKafkaPublisher(a.producer, a.cfg.Kafka.EventsTopic)
	}

	a.outbox = outbox.NewProcessor(a.tx, outbox_postgres.NewOutboxRepository(), publisher, outbox.Config{
		PollInterval: a.cfg.OutboxPollInterval,
		PollTimeout:  a.cfg.OutboxPollTimeout,
		BatchSize:    a.cfg.OutboxBatchSize,
	}, a.metrics, a.logger)

	if a.cfg.Kafka.Enabled && handler != nil {
		a.consumer = kafka_infra.NewConsumer(
			a.cfg.KafkaBrokers(),
			a.cfg.Kafka.DisputeTopic,
			a.cfg.Kafka.ConsumerGroup,
			handler,
			a.logger.With(zap.String("component", "dispute_consumer")),
		)
		a.onClose("dispute consumer", a.consumer.Close)
	}
	return nil
}

func (a *application) onClose(name string, fn func() error) {
	a.closeFunc = append(a.closeFunc, func() error {
		if err := fn(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	})
}

// close releases resources in reverse order of acquisition.
func (a *application) close() {
	var errs []error
	for i := len(a.closeFunc) - 1; i >= 0; i-- {
		if err := a.closeFunc[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Errors during shutdown", zap.Error(err))
	}
}

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     3,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			logger.Info("Kafka topics already exist, skipping creation", zap.Strings("topics", topics))
			return nil
		}
		return fmt.Errorf("failed to create kafka topics: %w", err)
	}
	logger.Info("Kafka topics ensured", zap.Strings("topics", topics))
	return nil
}
