package captcha

import (
	"github.com/mojocn/base64Captcha"
)

// Renderer turns a code into a base64 image data URI.
type Renderer interface {
	Render(code string) (string, error)
}

type ImageRenderer struct {
	driver *base64Captcha.DriverString
}

// NewImageRenderer draws 120x50 PNGs with hollow-line noise using the
// library's embedded fonts.
func NewImageRenderer() *ImageRenderer {
	d := base64Captcha.NewDriverString(
		50, 120, 0,
		base64Captcha.OptionShowHollowLine,
		CodeLength, Alphabet,
		nil, nil, nil,
	)
	return &ImageRenderer{driver: d.ConvertFonts()}
}

func (r *ImageRenderer) Render(code string) (string, error) {
	item, err := r.driver.DrawCaptcha(code)
	if err != nil {
		return "", err
	}
	return item.EncodeB64string(), nil
}
