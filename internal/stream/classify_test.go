package stream

import (
	"errors"
	"net/http"
	"testing"
)

func TestClassifyIngestionError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
		want   Kind
	}{
		{name: "network error", err: errors.New("dial tcp: connection refused"), want: KindTransient},
		{name: "bad gateway", status: http.StatusBadGateway, body: "upstream down", want: KindTransient},
		{name: "structured quota code", status: http.StatusForbidden, body: `{"success":false,"errors":[{"code":10011,"message":"quota exceeded"}]}`, want: KindQuotaExceeded},
		{name: "413 mentioning allocation", status: http.StatusRequestEntityTooLarge, body: "stored minutes allocation exhausted", want: KindQuotaExceeded},
		{name: "413 plain", status: http.StatusRequestEntityTooLarge, body: "file exceeds limits", want: KindPayloadRejected},
		{name: "other permanent", status: http.StatusInternalServerError, body: "boom", want: KindFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyIngestionError(tc.err, tc.status, []byte(tc.body))
			if got.Kind != tc.want {
				t.Fatalf("kind = %q, want %q", got.Kind, tc.want)
			}
			if tc.want == KindTransient && !got.Retryable() {
				t.Fatal("transient error should be retryable")
			}
			if tc.want != KindTransient && got.Retryable() {
				t.Fatal("permanent error should not be retryable")
			}
		})
	}
}

func TestBackendMessageExtractsStructuredErrors(t *testing.T) {
	body := []byte(`{"success":false,"errors":[{"code":10011,"message":"quota exceeded"},{"code":1000,"message":"see docs"}]}`)
	if got := backendMessage(body); got != "quota exceeded; see docs" {
		t.Fatalf("backendMessage = %q", got)
	}
}

func TestLocators(t *testing.T) {
	locators := Config{EmbedHost: "iframe.videodelivery.net", DeliveryHost: "videodelivery.net"}.Locators()
	cases := []struct {
		got  string
		want string
	}{
		{locators.EmbedURL("abc"), "https://iframe.videodelivery.net/abc"},
		{locators.ThumbnailURL("abc"), "https://videodelivery.net/abc/thumbnails/thumbnail.jpg"},
		{locators.HLSManifestURL("abc"), "https://videodelivery.net/abc/manifest/video.m3u8"},
		{locators.DASHManifestURL("abc"), "https://videodelivery.net/abc/manifest/video.mpd"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("locator = %q, want %q", tc.got, tc.want)
		}
	}
}
