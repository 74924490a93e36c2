package media

import (
	"encoding/json"

	"github.com/nyife/rtcore/internal/eventbus"
	"github.com/nyife/rtcore/internal/events"
	"github.com/nyife/rtcore/internal/models"
)

// Topic names the media-lifecycle events this package publishes
// (spec.md §6 "Cross-system events").
const (
	TopicMediaUploaded  eventbus.Topic = "media.uploaded"
	TopicMediaProcessed eventbus.Topic = "media.processed"
	TopicMediaFailed    eventbus.Topic = "media.failed"
	TopicMediaDeleted   eventbus.Topic = "media.deleted"
)

// EventSource identifies this package as a producer in event Base.Source.
const EventSource = "media"

type uploadedPayload struct {
	AttachmentID string           `json:"attachmentId"`
	UploadID     string           `json:"uploadId"`
	UploaderID   string           `json:"uploaderId"`
	MediaType    models.MediaType `json:"mediaType"`
}

type processedPayload struct {
	AttachmentID   string `json:"attachmentId"`
	CDNURL         string `json:"cdnUrl,omitempty"`
	ThumbnailURL   string `json:"thumbnailUrl,omitempty"`
	OptimizedURL   string `json:"optimizedUrl,omitempty"`
	HLSPlaylistURL string `json:"hlsPlaylistUrl,omitempty"`
}

type failedPayload struct {
	AttachmentID string `json:"attachmentId"`
	Error        string `json:"error"`
	RetryCount   int    `json:"retryCount"`
}

func (s *Service) newBase(aggregateID, eventType string, version int) events.Base {
	return events.NewBase(s.clk.Now(), EventSource, aggregateID, eventType, version, "")
}

func (s *Service) publishUploaded(att models.MediaAttachment) {
	payload := uploadedPayload{
		AttachmentID: att.ID.String(),
		UploadID:     att.UploadID,
		UploaderID:   att.UploaderID.String(),
		MediaType:    att.MediaType,
	}
	s.publish(TopicMediaUploaded, att.ID.String(), "media.uploaded", 1, payload)
}

func (s *Service) publishProcessed(att models.MediaAttachment) {
	payload := processedPayload{
		AttachmentID:   att.ID.String(),
		CDNURL:         att.CDNURL,
		ThumbnailURL:   att.ThumbnailURL,
		OptimizedURL:   att.OptimizedURL,
		HLSPlaylistURL: att.HLSPlaylistURL,
	}
	s.publish(TopicMediaProcessed, att.ID.String(), "media.processed", 1, payload)
}

func (s *Service) publishFailed(att models.MediaAttachment) {
	payload := failedPayload{
		AttachmentID: att.ID.String(),
		Error:        att.ProcessingError,
		RetryCount:   att.RetryCount,
	}
	s.publish(TopicMediaFailed, att.ID.String(), "media.failed", 1, payload)
}

func (s *Service) publish(topic eventbus.Topic, aggregateID, eventType string, version int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("media: failed to encode event payload", "error", err, "event_type", eventType, "aggregate_id", aggregateID)
		return
	}
	env := events.Envelope{Base: s.newBase(aggregateID, eventType, version), Payload: raw}
	s.bus.Publish(topic, env)
}
