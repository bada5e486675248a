package template

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/signintech/gopdf"

	"ms-marketplace/internal/models"
	"ms-marketplace/internal/utils"
)

type TicketPDFGenerator struct {
	FontPath string
}

func NewTicketPDFGenerator(fontPath string) *TicketPDFGenerator {
	return &TicketPDFGenerator{FontPath: fontPath}
}

func (g *TicketPDFGenerator) Generate(ticket models.TicketView, currency string, qrCode []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("dejavu", g.FontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("dejavu", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	addHeader(pdf, ticket.EventTitle)

	pdf.SetY(90)
	addTicketInfo(pdf, ticket, currency)

	if len(qrCode) > 0 {
		pdf.SetY(pdf.GetY() + 20)
		addQRCode(pdf, qrCode)
	}

	pdf.SetY(760)
	addFooter(pdf)

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addHeader(pdf *gopdf.GoPdf, title string) {
	pdf.SetX(40)
	pdf.SetY(40)
	pdf.Cell(nil, strings.ToUpper(title))
}

func addTicketInfo(pdf *gopdf.GoPdf, ticket models.TicketView, currency string) {
	info := []struct {
		Label string
		Value string
	}{
		{"Ticket", ticket.Code},
		{"Holder", ticket.HolderName},
		{"Tier", ticket.TierName},
		{"Price", utils.FormatMinor(ticket.PriceAtPurchase, currency)},
		{"Date", ticket.EventDate.Format("Mon 02 Jan 2006, 15:04 MST")},
		{"Venue", ticket.VenueName},
		{"Status", strings.ToUpper(ticket.Status)},
	}

	for _, item := range info {
		pdf.SetX(40)
		pdf.Cell(nil, item.Label+": "+item.Value)
		pdf.Br(20)
	}
}

func addQRCode(pdf *gopdf.GoPdf, qrCode []byte) {
	img, err := png.Decode(bytes.NewReader(qrCode))
	if err != nil {
		pdf.Cell(nil, "Failed to load QR code")
		return
	}

	rect := &gopdf.Rect{W: 180, H: 180}
	if err := pdf.ImageFrom(img, 40, pdf.GetY(), rect); err != nil {
		pdf.Cell(nil, "Failed to draw QR code")
	}
}

func addFooter(pdf *gopdf.GoPdf) {
	pdf.SetX(40)
	pdf.Cell(nil, "Present this QR code at the entrance. Each ticket admits one person once.")
}
