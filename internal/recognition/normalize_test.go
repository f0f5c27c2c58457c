package recognition_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/autoshop-labs/invoice-pipeline/internal/recognition"
)

var _ = Describe("Normalize", func() {
	It("collapses runs of spaces and tabs", func() {
		Expect(recognition.Normalize("INV-10234\t\tRO55021   04/02/2024")).
			To(Equal("INV-10234 RO55021 04/02/2024"))
	})

	It("normalizes CRLF and squeezes blank runs to one blank line", func() {
		Expect(recognition.Normalize("a\r\nb\n\n\n\nc")).To(Equal("a\nb\n\nc"))
	})

	It("strips ruled-line noise", func() {
		Expect(recognition.Normalize("TOTAL $431.99\n--------\nthank you")).
			To(Equal("TOTAL $431.99\n\nthank you"))
	})

	It("leaves digits in dates and amounts untouched", func() {
		in := "04/02/2024 $1,245.00 OEM1234"
		Expect(recognition.Normalize(in)).To(Equal(in))
	})

	It("keeps line structure for part extraction", func() {
		out := recognition.Normalize("OEM1234  Front Bumper  $450.00\nQQ881122  Bracket  $42.00")
		Expect(out).To(Equal("OEM1234 Front Bumper $450.00\nQQ881122 Bracket $42.00"))
	})

	It("is a no-op on empty input", func() {
		Expect(recognition.Normalize("")).To(Equal(""))
	})
})
