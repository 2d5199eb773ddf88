package stream

import "fmt"

// Locators builds playback URLs for an ingested asset. All methods are pure
// string derivations of the asset id and the configured delivery hosts.
type Locators struct {
	EmbedHost    string
	DeliveryHost string
}

// EmbedURL returns the iframe embed location for the asset.
func (l Locators) EmbedURL(assetID string) string {
	return fmt.Sprintf("https://%s/%s", l.EmbedHost, assetID)
}

// ThumbnailURL returns the default thumbnail image location for the asset.
func (l Locators) ThumbnailURL(assetID string) string {
	return fmt.Sprintf("https://%s/%s/thumbnails/thumbnail.jpg", l.DeliveryHost, assetID)
}

// HLSManifestURL returns the HLS playlist location for the asset.
func (l Locators) HLSManifestURL(assetID string) string {
	return fmt.Sprintf("https://%s/%s/manifest/video.m3u8", l.DeliveryHost, assetID)
}

// DASHManifestURL returns the DASH manifest location for the asset.
func (l Locators) DASHManifestURL(assetID string) string {
	return fmt.Sprintf("https://%s/%s/manifest/video.mpd", l.DeliveryHost, assetID)
}
