package pix

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// RenderQR encodes payload as a PNG QR code and returns it as a data URI
// that can be dropped straight into an <img src>.
func RenderQR(payload string) (string, error) {
	if payload == "" {
		return "", errors.New("pix: empty payload")
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("pix: qrcode.Encode: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
