package contracts

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultPort        = 5672
	DefaultVirtualHost = "/"
	DefaultLogin       = "guest"
	DefaultPassword    = "guest"
	DefaultExchange    = "celery"
	DefaultRoutingKey  = "celery"
)

// ConnectionDetails holds everything needed to reach the broker and address the task
// exchange. Values are copied, never mutated by the connector.
type ConnectionDetails struct {
	Host        string
	Login       string
	Password    string
	VirtualHost string
	Port        int
	Exchange    string
	RoutingKey  string
}

// WithDefaults returns a copy with empty fields set to their defaults
func (d ConnectionDetails) WithDefaults() ConnectionDetails {
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.VirtualHost == "" {
		d.VirtualHost = DefaultVirtualHost
	}
	if d.Login == "" {
		d.Login = DefaultLogin
		if d.Password == "" {
			d.Password = DefaultPassword
		}
	}
	if d.Exchange == "" {
		d.Exchange = DefaultExchange
	}
	if d.RoutingKey == "" {
		d.RoutingKey = DefaultRoutingKey
	}
	return d
}

// Validate checks the details can be used to connect and publish
func (d ConnectionDetails) Validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidDetails)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDetails, d.Port)
	}
	if d.Exchange == "" {
		return fmt.Errorf("%w: exchange is required", ErrInvalidDetails)
	}
	return nil
}

func (d ConnectionDetails) uri(password string) amqp.URI {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     d.Host,
		Port:     d.Port,
		Username: d.Login,
		Password: password,
		Vhost:    d.VirtualHost,
	}
}

// URL returns the AMQP URI for these details
func (d ConnectionDetails) URL() string {
	return d.uri(d.Password).String()
}

// Redacted returns the AMQP URI with the password masked, for logging
func (d ConnectionDetails) Redacted() string {
	if d.Password == "" {
		return d.URL()
	}
	return d.uri("xxxxx").String()
}

// ParseDetails builds ConnectionDetails from an AMQP URL
func ParseDetails(rawURL, exchange, routingKey string) (ConnectionDetails, error) {
	uri, err := amqp.ParseURI(rawURL)
	if err != nil {
		return ConnectionDetails{}, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}

	details := ConnectionDetails{
		Host:        uri.Host,
		Login:       uri.Username,
		Password:    uri.Password,
		VirtualHost: uri.Vhost,
		Port:        uri.Port,
		Exchange:    exchange,
		RoutingKey:  routingKey,
	}.WithDefaults()

	return details, details.Validate()
}
