package validation_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
	"github.com/autoshop-labs/invoice-pipeline/internal/validation"
)

func TestValidation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Validation Suite")
}

var _ = Describe("IsValidPartNumber", func() {
	It("accepts 6 to 8 uppercase alphanumerics", func() {
		Expect(validation.IsValidPartNumber("OEM1234")).To(BeTrue())
		Expect(validation.IsValidPartNumber("AB12CD")).To(BeTrue())
		Expect(validation.IsValidPartNumber("A1B2C3D4")).To(BeTrue())
	})

	It("rejects wrong lengths", func() {
		Expect(validation.IsValidPartNumber("AB123")).To(BeFalse())
		Expect(validation.IsValidPartNumber("AB1234567")).To(BeFalse())
		Expect(validation.IsValidPartNumber("")).To(BeFalse())
	})

	It("rejects lowercase and punctuation", func() {
		Expect(validation.IsValidPartNumber("oem1234")).To(BeFalse())
		Expect(validation.IsValidPartNumber("OEM-123")).To(BeFalse())
	})
})

var _ = Describe("VerifyParts", func() {
	It("annotates verified and oem flags without reordering", func() {
		parts := validation.VerifyParts([]entity.PartLine{
			{PartNumber: "OEM1234"},
			{PartNumber: "QQ881122"},
			{PartNumber: "bad"},
		})
		Expect(parts).To(HaveLen(3))
		Expect(parts[0].Verified).To(BeTrue())
		Expect(parts[0].OEM).To(BeTrue())
		Expect(parts[1].Verified).To(BeTrue())
		Expect(parts[1].OEM).To(BeFalse())
		Expect(parts[2].Verified).To(BeFalse())
		Expect(parts[2].OEM).To(BeFalse())
	})

	It("is idempotent", func() {
		once := validation.VerifyParts([]entity.PartLine{{PartNumber: "OEM1234"}})
		twice := validation.VerifyParts(once)
		Expect(twice).To(Equal(once))
	})

	It("does not mutate its input", func() {
		in := []entity.PartLine{{PartNumber: "OEM1234"}}
		_ = validation.VerifyParts(in)
		Expect(in[0].Verified).To(BeFalse())
	})
})

var _ = Describe("DRPCompliant", func() {
	It("is true only when every part verified", func() {
		Expect(validation.DRPCompliant([]entity.PartLine{
			{PartNumber: "OEM1234", Verified: true},
			{PartNumber: "QQ881122", Verified: true},
		})).To(BeTrue())
		Expect(validation.DRPCompliant([]entity.PartLine{
			{PartNumber: "OEM1234", Verified: true},
			{PartNumber: "bad", Verified: false},
		})).To(BeFalse())
	})

	It("is vacuously true for zero parts", func() {
		Expect(validation.DRPCompliant(nil)).To(BeTrue())
		Expect(validation.DRPCompliant([]entity.PartLine{})).To(BeTrue())
	})
})

var _ = Describe("ValidatePayload", func() {
	var data *entity.ExtractedData

	BeforeEach(func() {
		data = &entity.ExtractedData{
			InvoiceNumber: "INV-10234",
			RONumber:      "RO55021",
			Date:          "04/02/2024",
			TotalAmount:   decimal.RequireFromString("1245.00"),
			Parts: []entity.PartLine{
				{PartNumber: "OEM1234", Description: "Front Bumper", Price: decimal.RequireFromString("450.00"), Verified: true, OEM: true},
			},
			OCRConfidence: 1.0,
			DRPCompliant:  true,
			ValidationResults: entity.ValidationResults{
				PriceVerified:       true,
				PartNumbersVerified: true,
				DRPRulesChecked:     true,
				Errors:              []string{},
			},
		}
	})

	It("passes a fully assembled payload", func() {
		Expect(validation.ValidatePayload(data)).To(BeEmpty())
	})

	It("passes an empty-but-populated payload", func() {
		empty := &entity.ExtractedData{
			Parts: []entity.PartLine{},
			ValidationResults: entity.ValidationResults{
				Errors: []string{},
			},
		}
		Expect(validation.ValidatePayload(empty)).To(BeEmpty())
	})

	It("flags a negative total", func() {
		data.TotalAmount = decimal.RequireFromString("-3.50")
		violations := validation.ValidatePayload(data)
		Expect(violations).NotTo(BeEmpty())
		Expect(violations[0]).To(ContainSubstring("total_amount"))
	})

	It("flags an empty part number", func() {
		data.Parts[0].PartNumber = ""
		violations := validation.ValidatePayload(data)
		Expect(violations).NotTo(BeEmpty())
		Expect(violations[0]).To(ContainSubstring("part_number"))
	})

	It("flags a confidence outside the scorer's range", func() {
		data.OCRConfidence = 0.33
		violations := validation.ValidatePayload(data)
		Expect(violations).NotTo(BeEmpty())
		Expect(violations[0]).To(ContainSubstring("ocr_confidence"))
	})
})
