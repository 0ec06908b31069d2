package runlog

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsSink publishes entries as JSON on a subject, for operators tailing a run live.
type NatsSink struct {
	conn    *nats.Conn
	subject string
}

func NewNatsSink(conn *nats.Conn, subject string) *NatsSink {
	return &NatsSink{conn: conn, subject: subject}
}

func (s *NatsSink) Write(entry *Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := s.conn.Publish(s.subject, body); err != nil {
		return errors.Wrapf(err, "error when publishing to subject %q", s.subject)
	}
	return nil
}
