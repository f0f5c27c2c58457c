package validation

import (
	"regexp"
	"strings"

	"github.com/autoshop-labs/invoice-pipeline/internal/entity"
)

var rePartNumber = regexp.MustCompile(`^[A-Z0-9]{6,8}$`)

// IsValidPartNumber reports whether s is 6-8 uppercase letters or digits,
// exactly the extraction pattern. A part number failing this check is a
// strong extraction-error signal, not merely an unverified part.
func IsValidPartNumber(s string) bool {
	return rePartNumber.MatchString(s)
}

// IsOEMPart reports whether the part number carries the OEM prefix.
func IsOEMPart(s string) bool {
	return strings.HasPrefix(s, "OEM")
}

// VerifyParts annotates each part line with its verified and oem flags.
// Verification is the part-number format check; a real parts-catalog
// lookup slots in here later. Order-independent, input order preserved.
func VerifyParts(parts []entity.PartLine) []entity.PartLine {
	out := make([]entity.PartLine, len(parts))
	for i, p := range parts {
		p.Verified = IsValidPartNumber(p.PartNumber)
		p.OEM = IsOEMPart(p.PartNumber)
		out[i] = p
	}
	return out
}

// DRPCompliant is the AND over all verified flags. An invoice with zero
// parts is vacuously compliant.
func DRPCompliant(parts []entity.PartLine) bool {
	for _, p := range parts {
		if !p.Verified {
			return false
		}
	}
	return true
}

// PartNumbersVerified recomputes verification from the part numbers
// themselves. It equals DRPCompliant today but is kept separate for
// downstream consumers that want the raw check distinct from future
// per-rule DRP logic.
func PartNumbersVerified(parts []entity.PartLine) bool {
	for _, p := range parts {
		if !IsValidPartNumber(p.PartNumber) {
			return false
		}
	}
	return true
}
