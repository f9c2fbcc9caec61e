package pipeline

import (
	"mime"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sells-group/insightminer/internal/model"
)

// Classification is the classifier verdict and the signal that decided it.
type Classification struct {
	Kind     model.Kind
	Signal   model.Signal
	MimeType string
}

// Classify picks the final kind with strict precedence: byte signature,
// then the declared type, then the URL path hint. declared is the trusted
// kind from validated metadata, consulted only when the response content
// type is inconclusive. It never fails.
func Classify(data []byte, contentType string, declared, hint model.Kind) Classification {
	sniffed := mimetype.Detect(data).String()
	if k := kindFromMIME(sniffed); k.Known() {
		return Classification{Kind: k, Signal: model.SignalSignature, MimeType: sniffed}
	}

	if k := declaredKind(contentType); k.Known() {
		mt, _, _ := mime.ParseMediaType(contentType)
		return Classification{Kind: k, Signal: model.SignalDeclared, MimeType: mt}
	}
	if declared.Known() {
		return Classification{Kind: declared, Signal: model.SignalDeclared}
	}

	if hint.Known() {
		return Classification{Kind: hint, Signal: model.SignalPathHint}
	}
	return Classification{Kind: model.KindUnknown, Signal: model.SignalNone}
}

// ClassifyPhase classifies the payload and refines desc in place. A carousel
// descriptor takes the kind of the fetched first item.
func ClassifyPhase(desc *model.MediaDescriptor, payload *model.RawPayload) Classification {
	declared := model.KindUnknown
	if desc.Origin == model.OriginMetadata {
		declared = desc.Kind
	}
	c := Classify(payload.Bytes(), payload.ContentType, declared, desc.Identifier.InferredKind)
	desc.Kind = c.Kind
	desc.ClassifiedBy = c.Signal
	if c.MimeType != "" {
		desc.MimeType = c.MimeType
	}
	return c
}
