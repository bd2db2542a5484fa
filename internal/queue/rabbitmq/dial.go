package rabbitmq

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dial connects to the broker at url, an amqp:// or amqps:// URI. The
// connection uses a 10 second heartbeat and announces itself as "ghostmarket"
// in the management UI. Callers own the connection and must close it.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "ghostmarket",
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	return conn, nil
}

// HealthCheck returns a readiness check that fails once conn is closed, for
// example after the broker went away. The connection is not re-dialled; an
// orchestrator is expected to restart the process when the check stays red.
func HealthCheck(conn *amqp.Connection) func(context.Context) error {
	return func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("rabbitmq connection closed")
		}
		return nil
	}
}
