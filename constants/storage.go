package constants

import "fmt"

// Object store folders. Every durable artifact lives under one of these,
// keyed by profile id.
const (
	FolderRawImages    = "raw_images"
	FolderCompressed   = "compressed_images"
	FolderHeadshots    = "headshots_rembg"
	FolderCertificates = "certificates"
	FolderPreviews     = "certificate_previews"
)

// Singleton objects.
const (
	SnapshotKey = "manager_state.json"
	TemplateKey = "template.pptx"
)

func RawImageKey(id string) string    { return fmt.Sprintf("%s/%s.jpg", FolderRawImages, id) }
func CompressedKey(id string) string  { return fmt.Sprintf("%s/%s.jpg", FolderCompressed, id) }
func HeadshotKey(id string) string    { return fmt.Sprintf("%s/%s.jpg", FolderHeadshots, id) }
func CertificateKey(id string) string { return fmt.Sprintf("%s/%s.pptx", FolderCertificates, id) }
func PreviewKey(id string) string     { return fmt.Sprintf("%s/%s.png", FolderPreviews, id) }

// ProfileObjectKeys lists every stored artifact for a profile, in the order
// they are deleted when the profile is destroyed.
func ProfileObjectKeys(id string) []string {
	return []string{
		RawImageKey(id),
		CompressedKey(id),
		HeadshotKey(id),
		CertificateKey(id),
		PreviewKey(id),
	}
}
