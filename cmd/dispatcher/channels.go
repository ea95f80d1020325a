package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"dispatchq/internal/constants"
	"dispatchq/internal/models"
	"dispatchq/internal/privacy"
	"dispatchq/pkg/channel"
	"dispatchq/pkg/channel/amqp"
	"dispatchq/pkg/channel/httpapi"
	"dispatchq/pkg/channel/smtp"

	"github.com/sirupsen/logrus"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildTransmitter selects the configured provider and wraps it in a circuit breaker
// when max_failures is positive. The returned closer releases provider connections.
func buildTransmitter(cfg models.ChannelConfig, logger *logrus.Logger, verbose bool) (channel.Transmitter, io.Closer, error) {
	var (
		tx     channel.Transmitter
		closer io.Closer = nopCloser{}
	)

	switch cfg.Provider {
	case "", constants.ProviderLog:
		mask := privacy.MaskEmail
		if verbose {
			mask = nil
		}
		tx = channel.NewLogTransmitter(logger, mask)

	case constants.ProviderHTTP:
		client, err := httpapi.NewClient(httpapi.Config{
			Endpoint: cfg.HTTP.Endpoint,
			APIKey:   cfg.HTTP.APIKey,
			Timeout:  time.Duration(cfg.HTTP.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		tx = client

	case constants.ProviderSMTP:
		client, err := smtp.NewClient(smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Helo:     cfg.SMTP.Helo,
			Timeout:  time.Duration(cfg.SMTP.TimeoutSec) * time.Second,
			DKIM: smtp.DKIMConfig{
				Selector: cfg.SMTP.DKIMSelector,
				Domain:   cfg.SMTP.DKIMDomain,
				KeyPath:  cfg.SMTP.DKIMKeyPath,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		tx = client

	case constants.ProviderAMQP:
		publisher, err := amqp.NewPublisher(amqp.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		})
		if err != nil {
			return nil, nil, err
		}
		tx = publisher
		closer = publisher

	default:
		return nil, nil, fmt.Errorf("unknown channel provider %q", cfg.Provider)
	}

	if cfg.CircuitBreaker.MaxFailures > 0 {
		cb := channel.NewCircuitBreaker(
			tx.Name(),
			uint32(cfg.CircuitBreaker.MaxFailures),
			time.Duration(cfg.CircuitBreaker.TimeoutSec)*time.Second,
			logger,
		)
		tx = channel.WithCircuitBreaker(tx, cb)
	}

	logger.WithFields(logrus.Fields{
		"provider":        tx.Name(),
		"circuit_breaker": cfg.CircuitBreaker.MaxFailures > 0,
	}).Info("Channel provider configured")

	return tx, closer, nil
}

// hostname is used as the processor instance id when none is configured
func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
