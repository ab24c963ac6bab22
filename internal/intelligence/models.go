package intelligence

import (
	"context"
	"fmt"
)

// DocumentType represents the type/category of a business document
type DocumentType string

const (
	DocumentTypeUnknown             DocumentType = "desconocido"
	DocumentTypeInvoice             DocumentType = "facturas"
	DocumentTypeDeliveryNote        DocumentType = "remitos"
	DocumentTypeCreditNote          DocumentType = "notas_credito"
	DocumentTypeDebitNote           DocumentType = "notas_debito"
	DocumentTypeWaybill             DocumentType = "cartas_porte"
	DocumentTypeReceipt             DocumentType = "recibos"
	DocumentTypePurchaseOrder       DocumentType = "ordenes_compra"
	DocumentTypeContract            DocumentType = "contratos"
	DocumentTypeGrainSettlement     DocumentType = "liquidaciones_granos"
	DocumentTypeTransferCertificate DocumentType = "cot"
	DocumentTypeDepositCertificate  DocumentType = "ctg"
	DocumentTypeWeighing            DocumentType = "pesajes"
	DocumentTypeGrainContract       DocumentType = "contratos_granos"
	DocumentTypeBankTransfer        DocumentType = "transferencias"
	DocumentTypePaymentOrder        DocumentType = "ordenes_pago"
	DocumentTypeCheque              DocumentType = "cheques"
	DocumentTypePaymentReceipt      DocumentType = "recibos_pago"
	DocumentTypeAccountStatement    DocumentType = "estados_cuenta"
)

var displayNames = map[DocumentType]string{
	DocumentTypeUnknown:             "Desconocido",
	DocumentTypeInvoice:             "Factura",
	DocumentTypeDeliveryNote:        "Remito",
	DocumentTypeCreditNote:          "Nota de crédito",
	DocumentTypeDebitNote:           "Nota de débito",
	DocumentTypeWaybill:             "Carta de porte",
	DocumentTypeReceipt:             "Recibo",
	DocumentTypePurchaseOrder:       "Orden de compra",
	DocumentTypeContract:            "Contrato",
	DocumentTypeGrainSettlement:     "Liquidación de granos",
	DocumentTypeTransferCertificate: "Certificado de transferencia (COT)",
	DocumentTypeDepositCertificate:  "Certificado de depósito (CTG)",
	DocumentTypeWeighing:            "Ticket de pesaje",
	DocumentTypeGrainContract:       "Contrato de granos",
	DocumentTypeBankTransfer:        "Transferencia bancaria",
	DocumentTypePaymentOrder:        "Orden de pago",
	DocumentTypeCheque:              "Cheque",
	DocumentTypePaymentReceipt:      "Recibo de pago",
	DocumentTypeAccountStatement:    "Estado de cuenta",
}

// DisplayName returns a human-readable name for a document type
func (dt DocumentType) DisplayName() string {
	if name, ok := displayNames[dt]; ok {
		return name
	}
	return displayNames[DocumentTypeUnknown]
}

// IsValid checks if the document type is part of the taxonomy
func (dt DocumentType) IsValid() bool {
	_, ok := displayNames[dt]
	return ok
}

// IsKnown reports whether dt is a concrete classification, not the unknown sentinel
func (dt DocumentType) IsKnown() bool {
	return dt != DocumentTypeUnknown && dt.IsValid()
}

// AllDocumentTypes returns all concrete document types
func AllDocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeInvoice,
		DocumentTypeDeliveryNote,
		DocumentTypeCreditNote,
		DocumentTypeDebitNote,
		DocumentTypeWaybill,
		DocumentTypeReceipt,
		DocumentTypePurchaseOrder,
		DocumentTypeContract,
		DocumentTypeGrainSettlement,
		DocumentTypeTransferCertificate,
		DocumentTypeDepositCertificate,
		DocumentTypeWeighing,
		DocumentTypeGrainContract,
		DocumentTypeBankTransfer,
		DocumentTypePaymentOrder,
		DocumentTypeCheque,
		DocumentTypePaymentReceipt,
		DocumentTypeAccountStatement,
	}
}

// ParseDocumentType converts an identifier into a DocumentType
func ParseDocumentType(s string) (DocumentType, error) {
	dt := DocumentType(s)
	if !dt.IsValid() {
		return DocumentTypeUnknown, fmt.Errorf("unknown document type %q", s)
	}
	return dt, nil
}

// Method names one classification heuristic
type Method string

const (
	MethodKeyword    Method = "keyword"
	MethodRegex      Method = "regex"
	MethodML         Method = "ml"
	MethodLayout     Method = "layout"
	MethodAgro       Method = "agro"
	MethodCommercial Method = "commercial"
	MethodSupplier   Method = "supplier"
)

// resultOrder is the order in which method results are collected and reported.
var resultOrder = []Method{MethodKeyword, MethodRegex, MethodAgro, MethodCommercial, MethodML, MethodLayout}

// weightOrder is the order in which weighted contributions are accumulated.
var weightOrder = []Method{MethodKeyword, MethodRegex, MethodML, MethodLayout, MethodAgro, MethodCommercial}

// AllMethods returns the scoring methods in reporting order
func AllMethods() []Method {
	return append([]Method(nil), resultOrder...)
}

// ParseMethod validates a method name, including supplier
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if m == MethodSupplier {
		return m, nil
	}
	for _, known := range resultOrder {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown method: %q", s)
}

// Input is everything a scorer may look at for one document.
// Geometry is optional; text-only scorers ignore it.
type Input struct {
	Text     string
	Geometry GeometrySource
}

// ScoreResult is the verdict of a single scorer
type ScoreResult struct {
	Type       DocumentType   `json:"type"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
}

func unknownResult() ScoreResult {
	return ScoreResult{Type: DocumentTypeUnknown, Confidence: 0}
}

// Scorer is one independent classification heuristic
type Scorer interface {
	Method() Method
	Score(ctx context.Context, in Input) (ScoreResult, error)
}

// MethodResult is a scorer verdict or the error that prevented it
type MethodResult struct {
	ScoreResult
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func failedResult(err error) MethodResult {
	return MethodResult{ScoreResult: unknownResult(), Err: err, Error: err.Error()}
}

// Failed reports whether the scorer did not produce a verdict
func (r MethodResult) Failed() bool {
	return r.Err != nil
}

// MethodResultSet maps each executed method to its result
type MethodResultSet map[Method]MethodResult

// SupplierMatch identifies the counterparty detected in a document
type SupplierMatch struct {
	ID         string  `json:"supplier_id"`
	Name       string  `json:"name,omitempty"`
	Confidence float64 `json:"confidence"`

	boosts map[DocumentType]float64
}

// Boost returns the supplier's confidence boost for a document type
func (m *SupplierMatch) Boost(dt DocumentType) float64 {
	if m == nil {
		return 0
	}
	return m.boosts[dt]
}

// ConsensusStats summarizes the votes one document type received
type ConsensusStats struct {
	VoteCount         int      `json:"vote_count"`
	VotePercentage    float64  `json:"vote_percentage"`
	AvgConfidence     float64  `json:"avg_confidence"`
	MaxConfidence     float64  `json:"max_confidence"`
	SupportingMethods []Method `json:"supporting_methods"`
}

// ConsensusAnalysis is the cross-method agreement computed for one document
type ConsensusAnalysis struct {
	Stats        map[DocumentType]ConsensusStats `json:"consensus_stats"`
	Best         DocumentType                    `json:"best_consensus,omitempty"`
	TotalMethods int                             `json:"total_methods"`
	Strong       bool                            `json:"has_strong_consensus"`
}

// MethodContribution records how much a method added to the final score
type MethodContribution struct {
	Type         DocumentType `json:"type"`
	Confidence   float64      `json:"confidence"`
	Weight       float64      `json:"weight"`
	Contribution float64      `json:"contribution"`
}

// ClassificationRecord is the final output of the arbitration engine
type ClassificationRecord struct {
	Type       DocumentType    `json:"final_classification"`
	Confidence float64         `json:"final_confidence"`
	Methods    MethodResultSet `json:"method_results"`

	Supplier  *SupplierMatch    `json:"supplier_info,omitempty"`
	Consensus ConsensusAnalysis `json:"consensus_analysis"`

	Contributions    map[Method]MethodContribution `json:"method_contributions"`
	WeightedScores   map[DocumentType]float64      `json:"weighted_scores,omitempty"`
	SupplierBoost    float64                       `json:"supplier_boost"`
	ConsensusFactor  float64                       `json:"consensus_factor"`
	ConsensusPenalty float64                       `json:"consensus_penalty,omitempty"`
	PriorityOverride Method                        `json:"priority_override,omitempty"`
	PriorityBonus    float64                       `json:"priority_bonus,omitempty"`

	Reasoning string `json:"final_reasoning"`
	Error     string `json:"error,omitempty"`
}

// ConfidenceBand labels a confidence value using the engine thresholds
func ConfidenceBand(confidence, minThreshold, highThreshold float64) string {
	switch {
	case confidence >= highThreshold:
		return "Alta confianza"
	case confidence >= minThreshold:
		return "Confianza media"
	default:
		return "Baja confianza"
	}
}
