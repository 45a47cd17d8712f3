// Package media defines the port for the transcoding pipeline. Format
// conversion and size-limited re-encoding belong to an external collaborator.
package media

import (
	"context"
	"fmt"

	"github.com/zulandar/switchboard/internal/remote"
)

// Constraints bound what the remote network accepts for a payload kind.
type Constraints struct {
	MaxBytes  int64
	MimeTypes []string
}

// Converter converts media to satisfy the given constraints.
type Converter interface {
	Convert(ctx context.Context, m *remote.Media, c Constraints) (*remote.Media, error)
}

// Passthrough returns media unchanged unless it exceeds the size cap.
type Passthrough struct{}

func (Passthrough) Convert(ctx context.Context, m *remote.Media, c Constraints) (*remote.Media, error) {
	if c.MaxBytes > 0 && int64(len(m.Data)) > c.MaxBytes {
		return nil, fmt.Errorf("media: %s exceeds %d bytes and no transcoder is configured", m.FileName, c.MaxBytes)
	}
	return m, nil
}

// FallbackPolicy decides what happens when conversion fails for a payload
// kind: send the original anyway, or drop the entry with a notice.
func FallbackPolicy(kind remote.PayloadKind) Policy {
	switch kind {
	case remote.KindImage, remote.KindAudio:
		return SendOriginal
	default:
		return DropWithNotice
	}
}

// Policy is a conversion-failure fallback.
type Policy int

const (
	SendOriginal Policy = iota
	DropWithNotice
)
