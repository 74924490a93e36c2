package media

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestInferMediaType(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":             "image",
		"video/mp4":              "video",
		"audio/ogg":              "audio",
		"application/pdf":        "document",
		"text/plain":             "document",
		"":                       "document",
	}
	for mime, want := range cases {
		assert.Equal(t, want, string(inferMediaType(mime)), "mime %q", mime)
	}
}

func TestSameBroadCategory(t *testing.T) {
	assert.True(t, sameBroadCategory("image/png", "image/jpeg"))
	assert.True(t, sameBroadCategory("video/mp4; charset=binary", "video/quicktime"))
	assert.False(t, sameBroadCategory("application/x-msdownload", "image/png"))
	assert.True(t, sameBroadCategory("application/pdf", "application/octet-stream"), "both fall into the 'other' bucket")
}

func TestPermanentKey_IsDeterministicPerUploadID(t *testing.T) {
	now := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	first := permanentKey(now, "upload-1", ".jpg")
	second := permanentKey(now, "upload-1", ".jpg")
	assert.Equal(t, first, second)
	assert.Equal(t, "permanent/2026/03/unlinked/"+first[len("permanent/2026/03/unlinked/"):], first)

	other := permanentKey(now, "upload-2", ".jpg")
	assert.NotEqual(t, first, other)
}

func TestPermanentKey_DefaultsExtensionWhenMissing(t *testing.T) {
	now := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)
	key := permanentKey(now, "upload-1", "")
	assert.Contains(t, key, ".bin")
}

func TestMessageIDString(t *testing.T) {
	assert.Equal(t, "", messageIDString(nil))
	id := uuid.New()
	assert.Equal(t, id.String(), messageIDString(&id))
}
