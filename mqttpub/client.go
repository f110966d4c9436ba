package mqttpub

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/temoto/efstat/config"
	"github.com/temoto/efstat/helpers"
	"github.com/temoto/efstat/log2"
)

const (
	defaultNetworkTimeout = 10 * time.Second
	defaultKeepalive      = 30 * time.Second
)

// DefaultClientID is new random id on each call.
func DefaultClientID() string {
	return "efstat-" + uuid.New().String()[:8]
}

// NewClientOptions builds paho options with last will = offline status.
func NewClientOptions(log *log2.Log, c config.MqttConfig) *mqtt.ClientOptions {
	clientID := c.ClientID
	if clientID == "" {
		clientID = DefaultClientID()
	}
	keepalive := helpers.IntSecondDefault(c.KeepaliveSec, defaultKeepalive)
	return mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(clientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetConnectTimeout(defaultNetworkTimeout).
		SetKeepAlive(keepalive).
		SetPingTimeout(defaultNetworkTimeout).
		SetWriteTimeout(defaultNetworkTimeout).
		SetMaxReconnectInterval(time.Minute).
		SetWill(Topics{Prefix: c.TopicPrefix}.Status(), StatusOffline, byte(c.Qos), true).
		SetOnConnectHandler(func(mqtt.Client) { log.Infof("mqtt connected broker=%s", c.Broker) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { log.Errorf("mqtt connection lost err=%v", err) })
}

// Connect creates client and waits for first connection.
func Connect(log *log2.Log, c config.MqttConfig) (mqtt.Client, error) {
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog

	m := mqtt.NewClient(NewClientOptions(log, c))
	if err := tokenWait(m.Connect(), defaultNetworkTimeout*3, "connect"); err != nil {
		return nil, err
	}
	return m, nil
}
