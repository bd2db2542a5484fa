package rabbitmq

import (
	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the queues backing one job queue:
//
//	<name>             jobs ready for processing
//	<name>.retry.<d>   parked jobs; expire after d and dead-letter back to <name>
//	<name>.failed      jobs that will not be retried
type Topology struct {
	Name   string
	Policy RetryPolicy
}

// FailedQueue is the queue for jobs that gave up.
func (t Topology) FailedQueue() string { return t.Name + ".failed" }

// RetryQueue is the parking queue used after failed attempt n.
func (t Topology) RetryQueue(n int) string {
	return t.Name + ".retry." + t.Policy.Backoff(n).String()
}

// Declare creates the ready and failed queues plus one retry queue per
// distinct backoff of the policy. Retry queues hold jobs for their TTL and
// then dead-letter them back to the ready queue. Declaring an existing queue
// with the same arguments is a no-op, so every process may call Declare.
func (t Topology) Declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(t.Name, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", t.Name)
	}
	if _, err := ch.QueueDeclare(t.FailedQueue(), true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", t.FailedQueue())
	}

	declared := make(map[string]struct{})
	for n := 1; !t.Policy.Exhausted(n); n++ {
		name := t.RetryQueue(n)
		if _, ok := declared[name]; ok {
			continue
		}
		declared[name] = struct{}{}

		_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-message-ttl":             t.Policy.Backoff(n).Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": t.Name,
		})
		if err != nil {
			return errors.Wrapf(err, "declare %s", name)
		}
	}
	return nil
}
