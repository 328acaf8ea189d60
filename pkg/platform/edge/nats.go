package edge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/postqode/agentdeploy/pkg/platform"
	log "github.com/sirupsen/logrus"
)

// ErrOffline is returned when no device answered a command.
var ErrOffline = errors.New("device is offline")

//go:generate mockery --name=Messenger --inpackage --case snake

// Messenger delivers one command to a device subject and waits for the reply.
type Messenger interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

type NATS struct {
	conn    *nats.Conn
	timeout time.Duration
}

var _ Messenger = &NATS{}

// Connect returns immediately. The connection is retried in the background,
// and commands sent while it is down fail as unreachable.
func Connect(url string, timeout time.Duration) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("agentdeployd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("Disconnected from NATS: %s", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("Connected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn, timeout: timeout}, nil
}

func (n *NATS) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	if !n.conn.IsConnected() {
		return nil, platform.Unreachablef("NATS is %s", n.conn.Status())
	}

	if _, ok := ctx.Deadline(); !ok && n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	msg, err := n.conn.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
		return msg.Data, nil
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%s: %w", subject, ErrOffline)
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, platform.Unreachablef("request %s: %w", subject, err)
	}
}

func (n *NATS) Close() {
	n.conn.Close()
}
