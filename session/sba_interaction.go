package session

import (
	"strings"
	"time"

	"github.com/corepcap/mobilecore/gid"
	"github.com/corepcap/mobilecore/model"
	"github.com/corepcap/mobilecore/proto/sba"
)

// SBAInteraction is the per-completed-HTTP/2-stream child session: one
// record per classified SBA request/response pair.
type SBAInteraction struct {
	ID gid.SBAInteractionID
	StreamKey string
	Service string
	NFType string
	API string
	Status int
}

// UpsertSBA classifies an SBA interaction and merges it into the owning
// master session. streamKey scopes the HTTP/2 stream id to its five-tuple:
// HTTP2StreamKey is a scoped, join-only identifier, since a stream id on
// its own is only unique within one connection.
func (c *Correlator) UpsertSBA(interaction sba.Interaction, streamKey string, ref model.SessionMessageRef, at time.Time) *MasterSession {
	c.mu.Lock()
	ia:= &SBAInteraction{
		ID: gid.GenerateSBAInteractionID(),
		StreamKey: streamKey,
		Service: interaction.Service,
		NFType: interaction.NFType,
		API: interaction.API,
		Status: interaction.Status,
	}
	c.sbaInteractions[ia.ID] = ia
	id:= ia.ID
	c.mu.Unlock()

	key:= model.CorrelationKey{
		HTTP2StreamKey: streamKey,
		SUPI: extractSUPI(interaction.ResourceTail),
	}
	m:= c.Merge(key, ref, at)

	c.mu.Lock()
	m.SBAInteractionIDs.Insert(id)
	c.mu.Unlock()
	return m
}

// extractSUPI pulls a SUPI out of an SBA resource tail when it follows the
// `supi-<digits>` path-segment convention.
func extractSUPI(resourceTail string) string {
	for _, seg:= range strings.Split(resourceTail, "/") {
		if strings.HasPrefix(seg, "supi-") {
			return strings.TrimPrefix(seg, "supi-")
		}
	}
	return ""
}
