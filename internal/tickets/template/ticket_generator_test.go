package template

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-marketplace/internal/models"
	qr "ms-marketplace/internal/tickets/qr_genrator"
)

const testFont = "testdata/LiberationSerif-Regular.ttf"

func sampleTicket() models.TicketView {
	return models.TicketView{
		Ticket: models.Ticket{
			Code:            "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567",
			HolderName:      "Ada Obi",
			TierName:        "VIP",
			PriceAtPurchase: 2500000,
			Status:          models.TicketValid,
		},
		EventTitle: "Lagos Jazz Night",
		EventDate:  time.Date(2026, 12, 5, 19, 0, 0, 0, time.UTC),
		VenueName:  "Eko Hall",
		Currency:   "ngn",
	}
}

func TestGenerateRendersPDF(t *testing.T) {
	ticket := sampleTicket()
	img, err := qr.NewQRGenerator("k").GeneratePNG(ticket.Code, 256)
	require.NoError(t, err)

	doc, err := NewTicketPDFGenerator(testFont).Generate(ticket, ticket.Currency, img)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
	assert.Greater(t, len(doc), 1000)
}

func TestGenerateWithoutQRCode(t *testing.T) {
	doc, err := NewTicketPDFGenerator(testFont).Generate(sampleTicket(), "ngn", nil)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
}

func TestGenerateMissingFont(t *testing.T) {
	_, err := NewTicketPDFGenerator("testdata/missing.ttf").Generate(sampleTicket(), "ngn", nil)
	assert.ErrorContains(t, err, "failed to load font")
}
