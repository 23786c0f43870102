package qrcode

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/makiuchi-d/gozxing"
	zxqrcode "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
	"github.com/yeqown/go-qrcode/v2"
	"github.com/yeqown/go-qrcode/writer/standard"
)

// Generate writes a PNG QR code holding content into dir and returns its path
func Generate(dir, name, content string) (string, error) {
	qrc, err := qrcode.New(content)
	if err != nil {
		return "", errors.Wrap(err, "error creating QR code")
	}

	// Generate a unique filename
	filename := filepath.Join(dir, fmt.Sprintf("qr_%s_%d.png", name, time.Now().UnixNano()))
	fileWriter, err := standard.New(filename, standard.WithBuiltinImageEncoder(standard.PNG_FORMAT))
	if err != nil {
		return "", errors.Wrap(err, "error creating file writer")
	}

	if err = qrc.Save(fileWriter); err != nil {
		os.Remove(filename) // Clean up on error
		return "", errors.Wrap(err, "error saving QR code")
	}

	return filename, nil
}

// Decode reads the text of the QR code in a PNG or JPEG image
func Decode(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", errors.Wrap(err, "error decoding image")
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", errors.Wrap(err, "error preparing image")
	}
	result, err := zxqrcode.NewQRCodeReader().Decode(bmp, map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	if err != nil {
		return "", errors.Wrap(err, "no QR code found")
	}
	return result.GetText(), nil
}

// Remove deletes the QR code file
func Remove(filename string) error {
	return os.Remove(filename)
}
