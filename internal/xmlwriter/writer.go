// =============================================================================
// Billing Reconciler - XML Export Module
// =============================================================================
//
// This module writes imported invoices to the XML document consumed by the
// accounting system. Only invoices in the imported state are exported.
//
// XML STRUCTURE:
//
//   <invoices>                               <!-- Root element -->
//     <invoice n="1" id="P-100">             <!-- One per invoice -->
//       <Series>P</Series>
//       <Number>100</Number>
//       <Date>2024-03-15</Date>
//       <Patient>Rossi Maria</Patient>
//       <DoctorID>D1</DoctorID>
//       <NetTotal>120.00</NetTotal>
//       <VatTotal>26.40</VatTotal>
//       <GrossTotal>146.40</GrossTotal>
//       <line n="1">                         <!-- Global numbering by default -->
//         <Code>RT</Code>
//         <Kind>procedure</Kind>
//         ...
//       </line>
//     </invoice>
//   </invoices>
//
// =============================================================================

package xmlwriter

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ginjaninja78/billing-reconciler/internal/reconcile"
)

// ErrNotImported is returned when a non-imported invoice is passed in.
var ErrNotImported = errors.New("invoice is not imported")

// amountPlaces is the number of decimals written for money amounts.
const amountPlaces = 2

// =============================================================================
// XML GENERATION OPTIONS
// =============================================================================

// GenerateOptions contains options for XML generation.
type GenerateOptions struct {
	// Indent is the string used for indentation.
	// Default: "  " (two spaces)
	Indent string

	// IncludeXMLDeclaration determines whether to include the XML declaration.
	// Default: true
	IncludeXMLDeclaration bool

	// RootElement is the name of the document root.
	// Default: "invoices"
	RootElement string

	// RootAttributes are additional attributes for the root element, written
	// in key order.
	RootAttributes map[string]string

	// LineNumberingGlobal numbers lines 1, 2, 3... across all invoices.
	// If false, numbering restarts for each invoice.
	// Default: true
	LineNumberingGlobal bool
}

// DefaultGenerateOptions returns the default generation options.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Indent:                "  ",
		IncludeXMLDeclaration: true,
		RootElement:           "invoices",
		RootAttributes:        make(map[string]string),
		LineNumberingGlobal:   true,
	}
}

// =============================================================================
// XML GENERATION FUNCTIONS
// =============================================================================

// Generate creates the export document with the default options.
//
// PARAMETERS:
//   - invoices: Imported invoices, in the order they should appear.
//
// RETURNS:
//   - The XML document as a byte slice.
//   - An error wrapping ErrNotImported if any invoice is not imported.
func Generate(invoices []reconcile.Invoice) ([]byte, error) {
	return GenerateWithOptions(invoices, DefaultGenerateOptions())
}

// GenerateWithOptions creates the export document with custom options.
func GenerateWithOptions(invoices []reconcile.Invoice, options GenerateOptions) ([]byte, error) {
	for _, inv := range invoices {
		if inv.State != reconcile.StateImported {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotImported, inv.ID, inv.State)
		}
	}

	var buffer bytes.Buffer
	if options.IncludeXMLDeclaration {
		buffer.WriteString(xml.Header)
	}

	root := buildDocument(invoices, options)
	writeElement(&buffer, root, options.Indent, 0)

	return buffer.Bytes(), nil
}

// WriteFile generates the export and writes it to path.
func WriteFile(path string, invoices []reconcile.Invoice, options GenerateOptions) error {
	data, err := GenerateWithOptions(invoices, options)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write XML export: %w", err)
	}
	return nil
}

// =============================================================================
// XML DOCUMENT BUILDING
// =============================================================================

// XMLElement represents a generic XML element.
type XMLElement struct {
	XMLName    xml.Name
	Attributes []xml.Attr
	Value      string
	Children   []XMLElement
}

// buildDocument constructs the root element.
func buildDocument(invoices []reconcile.Invoice, options GenerateOptions) XMLElement {
	root := XMLElement{XMLName: xml.Name{Local: options.RootElement}}

	keys := make([]string, 0, len(options.RootAttributes))
	for k := range options.RootAttributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		root.Attributes = append(root.Attributes, attr(k, options.RootAttributes[k]))
	}

	lineIndex := 1
	for i, inv := range invoices {
		if !options.LineNumberingGlobal {
			lineIndex = 1
		}
		root.Children = append(root.Children, buildInvoiceElement(i+1, inv, &lineIndex))
	}

	return root
}

// buildInvoiceElement constructs an invoice element and its lines.
//
// STRUCTURE:
//   <invoice n="1" id="P-100">
//     <Series>P</Series>
//     ...
//     <line n="1">...</line>
//   </invoice>
func buildInvoiceElement(n int, inv reconcile.Invoice, lineIndex *int) XMLElement {
	element := XMLElement{
		XMLName:    xml.Name{Local: "invoice"},
		Attributes: []xml.Attr{attr("n", fmt.Sprint(n)), attr("id", inv.ID)},
	}

	element.Children = append(element.Children,
		createSimpleElement("Series", inv.Series),
		createSimpleElement("Number", inv.Number),
		createSimpleElement("Date", inv.Date.Format("2006-01-02")),
		createSimpleElement("Patient", inv.PatientName),
		createSimpleElement("DoctorID", inv.DoctorID),
		createSimpleElement("DoctorName", inv.DoctorName),
		createSimpleElement("NetTotal", inv.NetTotal.StringFixed(amountPlaces)),
		createSimpleElement("VatTotal", inv.VatTotal.StringFixed(amountPlaces)),
		createSimpleElement("GrossTotal", inv.GrossTotal.StringFixed(amountPlaces)),
	)

	for _, line := range inv.Lines {
		element.Children = append(element.Children, buildLineElement(*lineIndex, line))
		(*lineIndex)++
	}

	return element
}

// buildLineElement constructs a line element. Empty optional fields are
// written as self-closing tags.
func buildLineElement(n int, line reconcile.LineItem) XMLElement {
	return XMLElement{
		XMLName:    xml.Name{Local: "line"},
		Attributes: []xml.Attr{attr("n", fmt.Sprint(n))},
		Children: []XMLElement{
			createSimpleElement("Code", line.Code),
			createSimpleElement("Description", line.Description),
			createSimpleElement("Kind", string(line.Kind)),
			createSimpleElement("ParentProcedure", line.ParentProcedureCode),
			createSimpleElement("Quantity", line.Quantity.String()),
			createSimpleElement("Unit", line.Unit),
			createSimpleElement("NetAmount", line.NetAmount.StringFixed(amountPlaces)),
			createSimpleElement("GrossAmount", line.GrossAmount.StringFixed(amountPlaces)),
		},
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// createSimpleElement creates a simple XML element with a text value.
func createSimpleElement(name, value string) XMLElement {
	return XMLElement{
		XMLName: xml.Name{Local: name},
		Value:   value,
	}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// writeElement writes an XML element to the buffer with indentation.
func writeElement(buffer *bytes.Buffer, element XMLElement, indent string, level int) {
	for i := 0; i < level; i++ {
		buffer.WriteString(indent)
	}

	buffer.WriteString("<")
	buffer.WriteString(element.XMLName.Local)
	for _, a := range element.Attributes {
		fmt.Fprintf(buffer, " %s=\"%s\"", a.Name.Local, escapeXML(a.Value))
	}

	// Self-closing tag.
	if len(element.Children) == 0 && element.Value == "" {
		buffer.WriteString("/>\n")
		return
	}

	buffer.WriteString(">")

	if element.Value != "" {
		buffer.WriteString(escapeXML(element.Value))
	} else {
		buffer.WriteString("\n")
		for _, child := range element.Children {
			writeElement(buffer, child, indent, level+1)
		}
		for i := 0; i < level; i++ {
			buffer.WriteString(indent)
		}
	}

	buffer.WriteString("</")
	buffer.WriteString(element.XMLName.Local)
	buffer.WriteString(">\n")
}

// escapeXML escapes special characters for XML.
func escapeXML(s string) string {
	var buffer bytes.Buffer
	// EscapeText only fails when the writer fails.
	_ = xml.EscapeText(&buffer, []byte(s))
	return buffer.String()
}
