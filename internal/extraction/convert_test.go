package extraction

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func encodeTestImage(encode func(*bytes.Buffer, image.Image) error) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	Expect(encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("normalizeImage", func() {
	When("the input is already PNG", func() {
		It("returns the bytes unchanged", func() {
			data := encodeTestImage(func(buf *bytes.Buffer, img image.Image) error {
				return png.Encode(buf, img)
			})
			out, err := normalizeImage(data, "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(data))
		})
	})

	When("the input is JPEG", func() {
		It("re-encodes as PNG", func() {
			data := encodeTestImage(func(buf *bytes.Buffer, img image.Image) error {
				return jpeg.Encode(buf, img, nil)
			})
			out, err := normalizeImage(data, "image/jpeg")
			Expect(err).NotTo(HaveOccurred())

			_, format, err := image.Decode(bytes.NewReader(out))
			Expect(err).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})
	})

	When("the content type is missing", func() {
		It("still decodes standard formats", func() {
			data := encodeTestImage(func(buf *bytes.Buffer, img image.Image) error {
				return jpeg.Encode(buf, img, nil)
			})
			_, err := normalizeImage(data, "")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the input is not a decodable image", func() {
		It("returns a permanent failure", func() {
			_, err := normalizeImage([]byte("definitely not an image"), "image/jpeg")
			Expect(err).To(HaveOccurred())
			Expect(IsTransient(err)).To(BeFalse())
		})
	})

	When("the input claims to be a PDF but is not", func() {
		It("returns a permanent failure", func() {
			_, err := normalizeImage([]byte("not a pdf"), "application/pdf")
			Expect(err).To(HaveOccurred())
			Expect(IsTransient(err)).To(BeFalse())
		})
	})
})
