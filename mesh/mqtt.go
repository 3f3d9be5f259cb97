package mesh

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReportHandler is called when a scanner report arrives.
// On decode failure report is nil and err is set.
type ReportHandler func(scannerID string, report *Scanner, err error)

// MQTTClient manages the broker connection and scanner report subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     ReportHandler
	connectHook func()
	isConnected bool
	mu          sync.RWMutex
}

// MQTTOption configures an MQTTClient
type MQTTOption func(*MQTTClient)

// WithConnectHook runs fn after every connect and reconnect, once the scanner
// topics are subscribed.
func WithConnectHook(fn func()) MQTTOption {
	return func(c *MQTTClient) {
		c.connectHook = fn
	}
}

// InitMQTT builds and connects an MQTT client from config and environment.
// If no broker is configured (MQTT_BROKER or mqtt.broker), MQTT is disabled
// and this returns nil, nil.
func InitMQTT(config *Config, handler ReportHandler, options ...MQTTOption) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Scanners) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no scanner configuration provided")
	}

	c := &MQTTClient{
		config:  config,
		handler: handler,
	}
	for _, o := range options {
		o(c)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "beaconmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("MQTT reconnecting...")
	})

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()

	return c, nil
}

// connectWithRetry connects with exponential backoff capped at one minute
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to every configured scanner topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	log.Println("MQTT connected, subscribing to scanner topics...")
	c.setConnected(true)

	for _, sc := range c.config.Scanners {
		if sc.Topic == "" {
			continue
		}

		log.Printf("Subscribing to %s for scanner %s", sc.Topic, sc.ID)
		token := client.Subscribe(sc.Topic, 1, c.createMessageHandler(sc.ID))

		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("Error subscribing to %s: %v", sc.Topic, token.Error())
		} else {
			log.Printf("Successfully subscribed to %s", sc.Topic)
		}
	}

	if c.connectHook != nil {
		c.connectHook()
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// createMessageHandler decodes report payloads for one scanner
func (c *MQTTClient) createMessageHandler(scannerID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("Received report for scanner %s (topic: %s, size: %d bytes)",
			scannerID, msg.Topic(), len(payload))

		report, err := DecodeReport(scannerID, payload)
		if err != nil {
			log.Printf("Error decoding report for %s: %v", scannerID, err)
		}

		if c.handler != nil {
			c.handler(scannerID, report, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetScannerByTopic returns the scanner ID subscribed to a topic
func (c *MQTTClient) GetScannerByTopic(topic string) (string, bool) {
	for _, sc := range c.config.Scanners {
		if sc.Topic == topic {
			return sc.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client, for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ReportHandler, options ...MQTTOption) *MQTTClient {
	c := &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
	for _, o := range options {
		o(c)
	}
	return c
}
