package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

var _ = Describe("classify", func() {
	var (
		rawErr     error
		classified *Error
	)

	JustBeforeEach(func() {
		classified = classify(rawErr, "calling model")
	})

	When("the underlying error is a deadline", func() {
		BeforeEach(func() {
			rawErr = fmt.Errorf("rpc: %w", context.DeadlineExceeded)
		})

		It("is transient", func() {
			Expect(classified.Kind).To(Equal(Transient))
		})
	})

	When("the service returns 429", func() {
		BeforeEach(func() {
			rawErr = &googleapi.Error{Code: 429, Message: "rate limited"}
		})

		It("is transient", func() {
			Expect(classified.Kind).To(Equal(Transient))
		})
	})

	When("the service returns 503", func() {
		BeforeEach(func() {
			rawErr = &googleapi.Error{Code: 503, Message: "unavailable"}
		})

		It("is transient", func() {
			Expect(classified.Kind).To(Equal(Transient))
		})
	})

	When("the service returns 401", func() {
		BeforeEach(func() {
			rawErr = &googleapi.Error{Code: 401, Message: "bad key"}
		})

		It("is permanent", func() {
			Expect(classified.Kind).To(Equal(Permanent))
		})
	})

	When("the service returns 400", func() {
		BeforeEach(func() {
			rawErr = &googleapi.Error{Code: 400, Message: "bad request"}
		})

		It("is permanent", func() {
			Expect(classified.Kind).To(Equal(Permanent))
		})
	})

	When("the call fails at the network layer", func() {
		BeforeEach(func() {
			rawErr = &url.Error{Op: "Post", URL: "http://localhost:11434", Err: errors.New("connection refused")}
		})

		It("is transient", func() {
			Expect(classified.Kind).To(Equal(Transient))
		})
	})

	It("preserves the underlying error for unwrapping", func() {
		gerr := &googleapi.Error{Code: 401}
		wrapped := classify(gerr, "calling model")
		var target *googleapi.Error
		Expect(errors.As(wrapped, &target)).To(BeTrue())
	})
})

var _ = Describe("IsTransient", func() {
	It("reports transient for transient extraction errors", func() {
		Expect(IsTransient(transientf(nil, "timeout"))).To(BeTrue())
	})

	It("reports not transient for permanent extraction errors", func() {
		Expect(IsTransient(permanentf(nil, "bad image"))).To(BeFalse())
	})

	It("reports transient for wrapped extraction errors", func() {
		err := fmt.Errorf("extracting: %w", transientf(nil, "timeout"))
		Expect(IsTransient(err)).To(BeTrue())
	})

	It("treats unclassified errors as transient", func() {
		Expect(IsTransient(errors.New("mystery"))).To(BeTrue())
	})
})
