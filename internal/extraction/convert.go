package extraction

import (
	"bytes"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// normalizeImage converts whatever the upload handler accepted (JPEG, PNG,
// GIF, HEIC/HEIF, PDF) into PNG bytes for the model call. Undecodable input
// is a permanent failure: retrying the same bytes will never help.
func normalizeImage(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	switch {
	case mimeType == "application/pdf":
		return pdfToPNG(data)
	case mimeType == "image/png" && !isHEIC(data, mimeType):
		return data, nil
	default:
		return decodeToPNG(data, mimeType)
	}
}

// pdfToPNG renders the first page of a PDF to PNG. Receipts are almost
// always single page.
func pdfToPNG(data []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, permanentf(err, "opening PDF")
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, permanentf(err, "rendering PDF page")
	}

	return encodePNG(img)
}

// decodeToPNG decodes any supported raster format and re-encodes as PNG.
func decodeToPNG(data []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEIC(data, mimeType) {
		// Go's standard image package doesn't handle iPhone HEIC photos
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, permanentf(err, "decoding HEIC image")
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, permanentf(err, "unsupported image format (supported: JPEG, PNG, GIF, HEIC, PDF)")
		}
	}

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, permanentf(err, "encoding PNG")
	}
	return buf.Bytes(), nil
}

// isHEIC checks the data's ftyp box brand and the declared MIME type for
// HEIC/HEIF markers.
func isHEIC(data []byte, mimeType string) bool {
	if strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif") {
		return true
	}
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}
