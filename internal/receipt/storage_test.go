package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalImageStore", func() {
	var store *LocalImageStore

	BeforeEach(func() {
		var err error
		store, err = NewLocalImageStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Put and Get", func() {
		It("round-trips file contents", func() {
			Expect(store.Put("abc.jpg", []byte("image bytes"))).To(Succeed())

			data, err := store.Get("abc.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image bytes")))
		})

		It("returns ErrFileNotFound for missing files", func() {
			_, err := store.Get("missing.jpg")
			Expect(err).To(MatchError(ErrFileNotFound))
		})
	})

	Describe("Delete", func() {
		It("removes a stored file", func() {
			Expect(store.Put("abc.jpg", []byte("image bytes"))).To(Succeed())
			Expect(store.Delete("abc.jpg")).To(Succeed())

			_, err := store.Get("abc.jpg")
			Expect(err).To(HaveOccurred())
		})

		It("errors for a missing file", func() {
			Expect(store.Delete("missing.jpg")).NotTo(Succeed())
		})
	})
})
