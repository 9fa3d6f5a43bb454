package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/T3-Labs/edge-surface/pkg/logger"
)

var errMQTTTimeout = errors.New("tempo esgotado aguardando o broker MQTT")

type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
	qos         byte
}

func NewMQTTPublisher(broker, clientID, topicPrefix string, qos byte) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	if clientID != "" {
		opts.SetClientID(clientID)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.L().Warnw("Conexão MQTT perdida", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	logger.L().Infow("Conectado ao broker MQTT", "broker", broker)
	return newMQTTPublisher(client, topicPrefix, qos), nil
}

func newMQTTPublisher(client mqtt.Client, topicPrefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, topicPrefix: topicPrefix, qos: qos}
}

func (p *MQTTPublisher) Topic(key string) string {
	return p.topicPrefix + key
}

func (p *MQTTPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	token := p.client.Publish(p.Topic(key), p.qos, false, payload)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return errMQTTTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("falha ao publicar no MQTT: %w", token.Error())
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
