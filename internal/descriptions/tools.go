package descriptions

// Tool descriptions with practical examples and use cases

const (
	// Classification Tools
	ClassifyDocumentDescription = `Classify a PDF business document into one of the supported Argentine document types.

**When to use:** You have a PDF (factura, remito, carta de porte, liquidación de granos, cheque, ...) and need to know what kind of document it is.

**Why it's useful:** Runs every enabled method (keywords, structural patterns, supplier detection, statistical model, first-page layout, agro and commercial rules) and arbitrates them into one verdict with a confidence and a reasoning line.

**Examples:**
• Route incoming mail: "Classify scans/2024-03/factura-0001.pdf"
• Check a grain settlement: "What type of document is liquidacion_1116.pdf?"

**Common workflows:**
1. Intake: classify_document → file by final type → extract metadata
2. Low confidence: classify_document → analyze_document to see each method's evidence

**Best practices:** Paths are resolved inside the configured document directory. A result of "desconocido" means no method reached the minimum confidence.`

	ClassifyTextDescription = `Classify raw document text without a PDF file.

**When to use:** The text was already extracted elsewhere (OCR output, email body, another tool) and you only need the document type.

**Why it's useful:** Same arbitration as classify_document, minus the layout method, which needs page geometry.

**Examples:**
• "Classify this text: FACTURA A Nº 0001-00001234 CUIT 30-12345678-1 ..."

**Best practices:** Send the whole text; the first lines carry most of the signal.`

	AnalyzeDocumentDescription = `Explain a classification in detail.

**When to use:** A classification looks wrong or has low confidence and you need to see why.

**Why it's useful:** Returns the final record plus every method's diagnostics: matched keywords, structural pattern hits, document structure, supplier data found in the text, statistical probabilities, agro and commercial indicators, and the first-page layout report. Also includes extracted metadata (CUIT, dates, amounts, document number) and file validation checks.

**Examples:**
• "Why was remito_77.pdf classified as factura?"
• "Show me the evidence behind the classification of cot_2024.pdf"

**Best practices:** Output is JSON; use classify_document for a short answer.`

	ClassifyDirectoryDescription = `Classify every PDF in a directory with a bounded worker pool.

**When to use:** Bulk processing of a folder of documents, optionally exporting the results.

**Why it's useful:** Each document has its own timeout, so one slow or broken file does not stall the batch. Returns counts per document type plus success, failure and timeout totals.

**Examples:**
• "Classify everything in incoming/"
• "Classify archive/2023 recursively and export to reports/2023.xlsx"

**Common workflows:**
1. Monthly close: classify_directory with export → review the Detallado sheet → fix outliers with analyze_document

**Best practices:** Export formats are chosen by extension: .xlsx, .json or .csv. Export paths must also be inside the document directory.`

	// Supplier Tools
	SearchSuppliersDescription = `Search the supplier database by name or CUIT.

**When to use:** Check whether a supplier is known before adding it, or find its id to update its patterns.

**Examples:**
• "Search suppliers for SERENISIMA"
• "Search suppliers for 30-50000109"

**Best practices:** CUIT matches score 1.0, name matches 0.8.`

	AddSupplierDescription = `Add or replace a supplier in the database.

**When to use:** A recurring counterparty is not recognized and you want its documents to get a supplier boost.

**Examples:**
• "Add supplier acme with names ACME S.A., ACME and CUIT 30-11111111-2"

**Best practices:** Names and CUIT are matched against the document text. Add document patterns afterwards with update_supplier_patterns.`

	UpdateSupplierPatternsDescription = `Teach the classifier how a supplier's documents look.

**When to use:** A known supplier prints specific terms or headers on one document type (e.g. "ABONO MENSUAL" on its facturas).

**Why it's useful:** When the supplier is detected and its terms appear in the text, the document type gets a confidence boost.

**Examples:**
• "For supplier telecom, add terms ABONO, SERVICIO INTERNET to facturas"

**Best practices:** Duplicates are ignored case-insensitively; a new document type starts with a boost of 0.1.`

	ClassifierStatusDescription = `Report which classification methods are available and how they are weighted.

**When to use:** Before relying on results, or to check the effect of configuration flags.

**Examples:**
• "Which classification methods are enabled?"

**Best practices:** Shows method weights, thresholds, priority rules, statistical model training state and the number of known suppliers.`
)
