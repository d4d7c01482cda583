package documents

import (
	"context"
	"io"

	"github.com/igdrones/ig-docs-backend/pkg/security"
)

type SignatureService struct {
	signer    *security.Signer
	validator security.Validator
}

func NewSignatureService(signer *security.Signer, validator security.Validator) *SignatureService {
	return &SignatureService{
		signer:    signer,
		validator: validator,
	}
}

// Sign records signerName's signature image against the document.
func (s *SignatureService) Sign(doc *Document, signerName string, image []byte) security.SignatureData {
	return s.signer.NewSignature(doc.Name, signerName, image)
}

// Finalize embeds every collected signature into pdf, replacing any block
// the file already carries.
func (s *SignatureService) Finalize(pdf []byte, collected []security.SignatureData, latest security.SignatureData) ([]byte, error) {
	all := make([]security.SignatureData, 0, len(collected)+1)
	all = append(all, collected...)
	all = append(all, latest)
	return security.Embed(pdf, all)
}

func (s *SignatureService) Verify(ctx context.Context, pdf io.Reader) ([]security.SignatureInfo, error) {
	return s.validator.ValidatePDF(ctx, pdf)
}
