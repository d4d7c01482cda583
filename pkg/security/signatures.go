package security

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Markers delimit the signature block appended to a PDF. Readers ignore
// bytes after %%EOF, so the file stays valid.
const (
	SignMarkerStart = "\n%%IGDOCS-SIGNATURES-BEGIN%%"
	SignMarkerEnd   = "%%IGDOCS-SIGNATURES-END%%\n"
)

var ErrNoSignature = errors.New("document carries no signature block")

type SignerInfo struct {
	Name           string `json:"name"`
	Timestamp      int64  `json:"timestamp"` // unix millis
	SignatureImage string `json:"signatureImage"`
}

// SignatureData is one entry of the embedded signature block.
type SignatureData struct {
	FileName   string     `json:"fileName"`
	DateTime   string     `json:"dateTime"`
	Subject    string     `json:"subject"`
	Issuer     string     `json:"issuer"`
	SignerInfo SignerInfo `json:"signerInfo"`
}

// Signer builds signature entries on behalf of one issuing organisation.
type Signer struct {
	Subject string
	Issuer  string
	now     func() time.Time
}

func NewSigner(subject, issuer string) *Signer {
	return &Signer{Subject: subject, Issuer: issuer, now: time.Now}
}

// NewSignature records signerName signing documentName with the given image.
func (s *Signer) NewSignature(documentName, signerName string, image []byte) SignatureData {
	now := s.now().UTC()
	return SignatureData{
		FileName: documentName + ".pdf",
		DateTime: now.Format(time.RFC3339Nano),
		Subject:  s.Subject,
		Issuer:   s.Issuer,
		SignerInfo: SignerInfo{
			Name:           signerName,
			Timestamp:      now.UnixMilli(),
			SignatureImage: base64.StdEncoding.EncodeToString(image),
		},
	}
}

// Embed strips any previous signature block from pdf and appends sigs.
func Embed(pdf []byte, sigs []SignatureData) ([]byte, error) {
	if len(pdf) == 0 {
		return nil, errors.New("empty document")
	}
	payload, err := json.Marshal(sigs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signatures: %w", err)
	}

	content := Strip(pdf)
	out := make([]byte, 0, len(content)+len(SignMarkerStart)+len(payload)+len(SignMarkerEnd))
	out = append(out, content...)
	out = append(out, SignMarkerStart...)
	out = append(out, payload...)
	out = append(out, SignMarkerEnd...)
	return out, nil
}

// Strip returns pdf without its signature block.
func Strip(pdf []byte) []byte {
	if i := bytes.Index(pdf, []byte(SignMarkerStart)); i >= 0 {
		return pdf[:i]
	}
	return pdf
}

// Extract returns the signatures embedded in pdf.
func Extract(pdf []byte) ([]SignatureData, error) {
	start := bytes.Index(pdf, []byte(SignMarkerStart))
	if start < 0 {
		return nil, ErrNoSignature
	}
	rest := pdf[start+len(SignMarkerStart):]
	end := bytes.Index(rest, []byte(SignMarkerEnd))
	if end < 0 {
		return nil, ErrNoSignature
	}

	var sigs []SignatureData
	if err := json.Unmarshal(rest[:end], &sigs); err != nil {
		return nil, fmt.Errorf("malformed signature block: %w", err)
	}
	return sigs, nil
}

// SignatureInfo is the verification view of one embedded signature.
type SignatureInfo struct {
	SignerName        string                 `json:"signer_name"`
	CertificateIssuer string                 `json:"certificate_issuer"`
	Subject           string                 `json:"subject"`
	SigningTime       time.Time              `json:"signing_time"`
	IsValid           bool                   `json:"is_valid"`
	Details           map[string]interface{} `json:"details,omitempty"`
}

type Validator interface {
	ValidatePDF(ctx context.Context, pdf io.Reader) ([]SignatureInfo, error)
}

type markerValidator struct {
	maxBytes int64
}

// NewValidator reads at most maxBytes of a document when validating.
func NewValidator(maxBytes int64) Validator {
	return &markerValidator{maxBytes: maxBytes}
}

func (v *markerValidator) ValidatePDF(ctx context.Context, pdf io.Reader) ([]SignatureInfo, error) {
	data, err := io.ReadAll(io.LimitReader(pdf, v.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sigs, err := Extract(data)
	if err != nil {
		return nil, err
	}

	infos := make([]SignatureInfo, 0, len(sigs))
	for _, sig := range sigs {
		signedAt, perr := time.Parse(time.RFC3339Nano, sig.DateTime)
		_, ierr := base64.StdEncoding.DecodeString(sig.SignerInfo.SignatureImage)
		infos = append(infos, SignatureInfo{
			SignerName:        sig.SignerInfo.Name,
			CertificateIssuer: sig.Issuer,
			Subject:           sig.Subject,
			SigningTime:       signedAt,
			IsValid:           perr == nil && ierr == nil && sig.SignerInfo.Name != "",
			Details:           map[string]interface{}{"file_name": sig.FileName},
		})
	}
	return infos, nil
}
