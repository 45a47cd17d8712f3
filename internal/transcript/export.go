// Package transcript defines the port for transcript export. Rendering and
// storage of transcripts belong to an external collaborator; the bridge only
// hands over the ticket and its channel history when a ticket closes.
package transcript

import (
	"context"

	"github.com/zulandar/switchboard/internal/local"
	"github.com/zulandar/switchboard/internal/models"
)

// Exporter receives a closing ticket and its channel history.
type Exporter interface {
	Export(ctx context.Context, ticket *models.Ticket, history []local.ChannelMessage) error
}

// Noop discards transcripts. Used when no exporter is configured.
type Noop struct{}

func (Noop) Export(ctx context.Context, ticket *models.Ticket, history []local.ChannelMessage) error {
	return nil
}
