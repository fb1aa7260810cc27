// Package deeplink encodes challenges into the deep link a signer app opens,
// either directly or by scanning it as a QR code.
package deeplink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize renders every QR module as a 10x10 pixel box.
const DefaultQRSize = -10

var (
	ErrMissingPrefix = errors.New("deeplink: link does not start with the deep link base")
	ErrFieldCount    = errors.New("deeplink: wrong number of fields")
	ErrComma         = errors.New("deeplink: field contains a comma")
)

// Payload is what the signer app needs to answer a challenge.
type Payload struct {
	DeepLinkBase   string `json:"deep_link_base"`
	Random         string `json:"random"`
	Key            string `json:"key"`
	CallbackTarget string `json:"callback_target,omitempty"`
}

// String renders the link as <base><random>,<key>,<callback target>.
func (p Payload) String() string {
	return p.DeepLinkBase + strings.Join([]string{p.Random, p.Key, p.CallbackTarget}, ",")
}

// Valid reports whether the payload survives a String/Parse round trip. The
// callback target is last, so only the random and the key must be comma-free.
func (p Payload) Valid() error {
	if strings.Contains(p.Random, ",") {
		return fmt.Errorf("%w: random", ErrComma)
	}
	if strings.Contains(p.Key, ",") {
		return fmt.Errorf("%w: key", ErrComma)
	}
	return nil
}

// Parse is the inverse of Payload.String.
func Parse(base, link string) (Payload, error) {
	rest, ok := strings.CutPrefix(link, base)
	if !ok {
		return Payload{}, ErrMissingPrefix
	}

	fields := strings.SplitN(rest, ",", 3)
	if len(fields) != 3 {
		return Payload{}, fmt.Errorf("%w: got %d, want 3", ErrFieldCount, len(fields))
	}

	return Payload{
		DeepLinkBase:   base,
		Random:         fields[0],
		Key:            fields[1],
		CallbackTarget: fields[2],
	}, nil
}

// QRCode renders the link as a PNG. A positive size is the image width in
// pixels, a negative one the pixel size of each module.
func (p Payload) QRCode(size int) ([]byte, error) {
	png, err := qrcode.Encode(p.String(), qrcode.Low, size)
	if err != nil {
		return nil, fmt.Errorf("deeplink: can't render QR code: %w", err)
	}
	return png, nil
}

// QRCodeBase64 is QRCode encoded with standard base64, ready for a data URI.
func (p Payload) QRCodeBase64(size int) (string, error) {
	png, err := p.QRCode(size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
