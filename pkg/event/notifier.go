package event

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"contract-mesh/pkg/model"
	"contract-mesh/pkg/nodeclient"
)

// Notifier delivers an event to one remote node.
type Notifier interface {
	Notify(ctx context.Context, node model.Node, env Envelope) error
}

// HTTPNotifier posts the envelope to the node's /events endpoint.
type HTTPNotifier struct {
	client *nodeclient.Client
}

func NewHTTPNotifier(client *nodeclient.Client) *HTTPNotifier {
	if client == nil {
		client = nodeclient.New(nil, nodeclient.DefaultTimeout)
	}
	return &HTTPNotifier{client: client}
}

func (n *HTTPNotifier) Notify(ctx context.Context, node model.Node, env Envelope) error {
	return n.client.SendEvent(ctx, node, env)
}

// Chain tries each notifier in turn and stops at the first success.
type Chain []Notifier

func (c Chain) Notify(ctx context.Context, node model.Node, env Envelope) error {
	var merr *multierror.Error
	for _, n := range c {
		err := n.Notify(ctx, node, env)
		if err == nil {
			return nil
		}
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}
